package definition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/expr"
	"github.com/compozy/tasktree/engine/spec"
	"github.com/compozy/tasktree/engine/task"
	"github.com/compozy/tasktree/pkg/logger"
	"github.com/compozy/tasktree/pkg/tplengine"
)

const DefaultCacheSize = 64

// Loader parses YAML definitions into processes. Processes loaded from files
// are cached by absolute path.
type Loader struct {
	evaluator expr.Evaluator
	templates *tplengine.TemplateEngine
	validate  *validator.Validate
	lookahead int
	cache     *lru.Cache[string, *spec.Process]
}

type Option func(*Loader)

func WithEvaluator(ev expr.Evaluator) Option {
	return func(l *Loader) { l.evaluator = ev }
}

func WithTemplateEngine(engine *tplengine.TemplateEngine) Option {
	return func(l *Loader) { l.templates = engine }
}

// WithLookahead sets the lookahead of tasks that neither they nor their
// document configure.
func WithLookahead(n int) Option {
	return func(l *Loader) { l.lookahead = n }
}

func NewLoader(cacheSize int, opts ...Option) (*Loader, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *spec.Process](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition cache: %w", err)
	}
	l := &Loader{validate: newValidator(), cache: cache, lookahead: task.DefaultLookahead}
	for _, opt := range opts {
		opt(l)
	}
	if l.templates == nil {
		l.templates = tplengine.NewEngine(tplengine.FormatJSON)
	}
	return l, nil
}

// LoadFile returns the process defined in path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*spec.Process, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	return l.loadFile(ctx, abs, nil)
}

func (l *Loader) loadFile(ctx context.Context, abs string, stack []string) (*spec.Process, error) {
	if p, ok := l.cache.Get(abs); ok {
		logger.FromContext(ctx).Debug("definition cache hit", "path", abs)
		return p, nil
	}
	if slices.Contains(stack, abs) {
		return nil, definitionError(fmt.Errorf("subprocess cycle through %s", abs), abs)
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open definition file: %w", err)
	}
	defer file.Close()
	doc, err := l.decode(file)
	if err != nil {
		return nil, definitionError(err, abs)
	}
	p, err := l.build(ctx, doc, filepath.Dir(abs), append(slices.Clone(stack), abs))
	if err != nil {
		return nil, definitionError(err, abs)
	}
	l.cache.Add(abs, p)
	logger.FromContext(ctx).Debug("definition loaded", "path", abs, "process", p.Name(), "specs", p.Len())
	return p, nil
}

// Parse builds a process from YAML bytes. Subprocess paths resolve against
// baseDir. Parsed processes are not cached.
func (l *Loader) Parse(ctx context.Context, data []byte, baseDir string) (*spec.Process, error) {
	doc, err := l.decode(bytes.NewReader(data))
	if err != nil {
		return nil, definitionError(err, "")
	}
	p, err := l.build(ctx, doc, baseDir, nil)
	if err != nil {
		return nil, definitionError(err, "")
	}
	return p, nil
}

// Purge drops every cached process.
func (l *Loader) Purge() { l.cache.Purge() }

func (l *Loader) decode(r io.Reader) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty definition")
		}
		return nil, fmt.Errorf("failed to decode YAML definition: %w", err)
	}
	if err := doc.Validate(l.validate); err != nil {
		return nil, err
	}
	return &doc, nil
}

type builder struct {
	loader  *Loader
	doc     *Document
	baseDir string
	stack   []string
	process *spec.Process
}

func (l *Loader) build(ctx context.Context, doc *Document, baseDir string, stack []string) (*spec.Process, error) {
	b := &builder{loader: l, doc: doc, baseDir: baseDir, stack: stack, process: spec.NewProcess(doc.Name)}
	for i := range doc.Tasks {
		if _, err := b.add(ctx, &doc.Tasks[i]); err != nil {
			return nil, err
		}
	}
	for i := range doc.Tasks {
		if err := b.connect(&doc.Tasks[i]); err != nil {
			return nil, err
		}
	}
	if err := b.process.ConnectStart(doc.Start...); err != nil {
		return nil, err
	}
	if err := b.process.ConnectEnd(doc.End...); err != nil {
		return nil, err
	}
	if err := b.process.Validate(); err != nil {
		return nil, err
	}
	return b.process, nil
}

func (b *builder) add(ctx context.Context, tc *TaskConfig) (task.Spec, error) {
	s, err := b.newSpec(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", tc.ID, err)
	}
	if base, ok := s.(interface{ Base() *task.BaseSpec }); ok {
		attrs := base.Base()
		attrs.SetManual(tc.Manual || tc.Type == TypeManual)
		attrs.SetLookahead(b.lookahead(tc))
		attrs.DataInputs = tc.Requires
		attrs.DataOutputs = tc.Provides
	}
	if err := b.process.Add(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *builder) lookahead(tc *TaskConfig) int {
	switch {
	case tc.Lookahead > 0:
		return tc.Lookahead
	case b.doc.Lookahead > 0:
		return b.doc.Lookahead
	default:
		return b.loader.lookahead
	}
}

func (b *builder) newSpec(ctx context.Context, tc *TaskConfig) (task.Spec, error) {
	l := b.loader
	switch tc.Type {
	case TypeSimple:
		return spec.NewSimple(tc.ID), nil
	case TypeManual:
		return spec.NewManual(tc.ID), nil
	case TypeScript:
		return spec.NewScript(tc.ID, tc.Set, l.templates), nil
	case TypeParallel:
		return spec.NewParallelGateway(tc.ID), nil
	case TypeExclusive:
		return spec.NewExclusiveGateway(tc.ID, l.evaluator), nil
	case TypeInclusive:
		return spec.NewInclusiveGateway(tc.ID, l.evaluator), nil
	case TypeCatch:
		c := spec.NewCatchEvent(tc.ID, task.EventDefinition{Name: tc.Event})
		c.ResultKey = tc.Result
		return c, nil
	case TypeThrow:
		e := spec.NewThrowEvent(tc.ID, tc.Event)
		e.PayloadKeys = tc.Payload
		return e, nil
	case TypeAcquire:
		return spec.NewAcquireMutex(tc.ID, tc.Mutex), nil
	case TypeRelease:
		return spec.NewReleaseMutex(tc.ID, tc.Mutex), nil
	case TypeCancel:
		return spec.NewCancel(tc.ID, tc.Success), nil
	case TypeSubprocess:
		path := tc.Process
		if !filepath.IsAbs(path) {
			path = filepath.Join(b.baseDir, path)
		}
		inner, err := l.loadFile(ctx, filepath.Clean(path), b.stack)
		if err != nil {
			return nil, err
		}
		return spec.NewSubProcess(tc.ID, inner), nil
	case TypeMulti:
		if l.evaluator == nil && tc.Completion != "" {
			return nil, fmt.Errorf("completion condition needs an expression evaluator")
		}
		body, err := b.add(ctx, tc.Body)
		if err != nil {
			return nil, err
		}
		m := spec.NewMultiInstance(tc.ID, body, l.evaluator)
		m.InputCollection = tc.Collection
		m.Cardinality = tc.Cardinality
		m.InputItem = tc.Item
		m.OutputItem = tc.OutputItem
		m.OutputCollection = tc.OutputCollection
		m.Sequential = tc.Sequential
		m.Completion = tc.Completion
		return m, nil
	default:
		return nil, fmt.Errorf("unknown task type %q", tc.Type)
	}
}

type routed interface {
	AddCondition(expression string, target task.Spec) error
	SetDefault(target task.Spec) error
}

func (b *builder) connect(tc *TaskConfig) error {
	for _, next := range tc.Next {
		if err := b.process.Connect(tc.ID, next); err != nil {
			return err
		}
	}
	if len(tc.Routes) == 0 && tc.Default == "" {
		return nil
	}
	s, _ := b.process.Spec(tc.ID)
	gw, ok := s.(routed)
	if !ok {
		return fmt.Errorf("task %q cannot declare routes", tc.ID)
	}
	for _, r := range tc.Routes {
		target, _ := b.process.Spec(r.Next)
		if err := gw.AddCondition(r.Condition, target); err != nil {
			return err
		}
	}
	if tc.Default != "" {
		target, _ := b.process.Spec(tc.Default)
		if err := gw.SetDefault(target); err != nil {
			return err
		}
	}
	return nil
}

func definitionError(err error, path string) error {
	var coded *core.Error
	if errors.As(err, &coded) {
		return err
	}
	details := map[string]any{}
	if path != "" {
		details["path"] = path
	}
	return core.NewError(err, core.CodeDefinition, details)
}
