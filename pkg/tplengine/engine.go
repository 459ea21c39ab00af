package tplengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

// EngineFormat represents the format of the template engine output
type EngineFormat string

const (
	FormatYAML EngineFormat = "yaml"
	FormatJSON EngineFormat = "json"
	FormatText EngineFormat = "text"
)

// TemplateEngine renders text/template strings with the sprig function set.
type TemplateEngine struct {
	mu           sync.RWMutex
	templates    map[string]*template.Template
	globalValues map[string]any
	format       EngineFormat
	precision    *PrecisionConverter
}

// ProcessResult contains the result of processing a template
type ProcessResult struct {
	Text  string
	Value any
}

func NewEngine(format EngineFormat) *TemplateEngine {
	return &TemplateEngine{
		templates:    make(map[string]*template.Template),
		globalValues: make(map[string]any),
		format:       format,
		precision:    NewPrecisionConverter(),
	}
}

func (e *TemplateEngine) WithFormat(format EngineFormat) *TemplateEngine {
	e.format = format
	return e
}

func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

func parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(sprig.FuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}

// AddTemplate compiles templateStr and keeps it under name.
func (e *TemplateEngine) AddTemplate(name, templateStr string) error {
	tmpl, err := parse(name, templateStr)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.templates[name] = tmpl
	e.mu.Unlock()
	return nil
}

// Render renders a template previously added with AddTemplate.
func (e *TemplateEngine) Render(name string, context map[string]any) (string, error) {
	e.mu.RLock()
	tmpl, ok := e.templates[name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}
	return e.execute(tmpl, context)
}

// RenderString renders templateStr. Strings without markers are returned as is.
func (e *TemplateEngine) RenderString(templateStr string, context map[string]any) (string, error) {
	if !HasTemplate(templateStr) {
		return templateStr, nil
	}
	tmpl, err := parse("inline", templateStr)
	if err != nil {
		return "", err
	}
	return e.execute(tmpl, context)
}

func (e *TemplateEngine) execute(tmpl *template.Template, context map[string]any) (string, error) {
	scope := make(map[string]any, len(context)+len(e.globalValues))
	maps.Copy(scope, context)
	e.mu.RLock()
	maps.Copy(scope, e.globalValues)
	e.mu.RUnlock()
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, scope); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

// ProcessString renders templateStr and decodes the output per the engine format.
func (e *TemplateEngine) ProcessString(templateStr string, context map[string]any) (*ProcessResult, error) {
	rendered, err := e.RenderString(templateStr, context)
	if err != nil {
		return nil, err
	}
	result := &ProcessResult{Text: rendered}
	switch e.format {
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal([]byte(rendered), &v); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		result.Value = v
	case FormatJSON:
		v, err := e.precision.ConvertJSONWithPrecision(rendered)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		result.Value = v
	default:
		result.Value = rendered
	}
	return result, nil
}

// ParseMap resolves templates in nested maps and lists. Rendered scalars are
// converted back to booleans, numbers or JSON values when they parse as such.
func (e *TemplateEngine) ParseMap(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return e.parseString(v, data)
	case map[string]any:
		result := make(map[string]any, len(v))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			parsed, err := e.ParseMap(v[k], data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse template in map key %s: %w", k, err)
			}
			result[k] = parsed
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			parsed, err := e.ParseMap(item, data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse template in array index %d: %w", i, err)
			}
			result[i] = parsed
		}
		return result, nil
	default:
		return v, nil
	}
}

func (e *TemplateEngine) parseString(v string, data map[string]any) (any, error) {
	if !HasTemplate(v) {
		return v, nil
	}
	if obj, ok := e.lookupReference(v, data); ok {
		return obj, nil
	}
	rendered, err := e.RenderString(v, data)
	if err != nil {
		return nil, err
	}
	switch rendered {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if strings.HasPrefix(rendered, "{") || strings.HasPrefix(rendered, "[") {
		if obj, err := e.precision.ConvertJSONWithPrecision(rendered); err == nil {
			return obj, nil
		}
	}
	return e.precision.ConvertWithPrecision(rendered), nil
}

// lookupReference resolves "{{ .a.b }}" straight from data so maps and lists keep their type.
func (e *TemplateEngine) lookupReference(tpl string, data map[string]any) (any, bool) {
	trimmed := strings.TrimSpace(tpl)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") ||
		strings.Count(trimmed, "{{") != 1 {
		return nil, false
	}
	path := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	if !strings.HasPrefix(path, ".") || strings.ContainsAny(path, " |()") {
		return nil, false
	}
	var cur any = data
	for part := range strings.SplitSeq(path[1:], ".") {
		if part == "" {
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	switch cur.(type) {
	case map[string]any, []any:
		return cur, true
	default:
		return nil, false
	}
}

func (e *TemplateEngine) AddGlobalValue(name string, value any) {
	e.mu.Lock()
	e.globalValues[name] = value
	e.mu.Unlock()
}

// MarshalValue renders v as JSON for templates that embed structured data.
func MarshalValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return string(b), nil
}
