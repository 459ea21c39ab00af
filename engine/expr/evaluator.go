package expr

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/cel-go/cel"
)

const (
	DefaultCostLimit = 1000
	DefaultCacheSize = 1000
	// DataVariable holds the whole data map, for keys that are not identifiers.
	DataVariable = "data"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var reserved = map[string]struct{}{
	"true": {}, "false": {}, "null": {}, "in": {}, "as": {}, "break": {}, "const": {},
	"continue": {}, "else": {}, "for": {}, "function": {}, "if": {}, "import": {},
	"let": {}, "loop": {}, "package": {}, "namespace": {}, "return": {}, "var": {},
	"void": {}, "while": {},
}

// Evaluator evaluates boolean conditions against task data.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error)
}

type Option func(*CELEvaluator)

func WithCostLimit(limit uint64) Option {
	return func(e *CELEvaluator) {
		if limit > 0 {
			e.costLimit = limit
		}
	}
}

func WithCacheSize(size int) Option {
	return func(e *CELEvaluator) {
		if size > 0 {
			e.cacheSize = int64(size)
		}
	}
}

// CELEvaluator compiles expressions with every top-level data key declared as
// a dynamic variable. Compiled programs are cached per expression and key set.
type CELEvaluator struct {
	env          *cel.Env
	costLimit    uint64
	cacheSize    int64
	programCache *ristretto.Cache[string, cel.Program]
	envs         sync.Map
}

func NewCELEvaluator(opts ...Option) (*CELEvaluator, error) {
	e := &CELEvaluator{costLimit: DefaultCostLimit, cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(e)
	}
	env, err := cel.NewEnv(cel.CrossTypeNumericComparisons(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	e.env = env
	cache, err := ristretto.NewCache(&ristretto.Config[string, cel.Program]{
		NumCounters: e.cacheSize * 10,
		MaxCost:     e.cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}
	e.programCache = cache
	return e, nil
}

// Close releases the program cache.
func (e *CELEvaluator) Close() {
	e.programCache.Close()
}

func (e *CELEvaluator) Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("evaluation aborted: %w", err)
	}
	vars := variables(data)
	prg, err := e.program(expression, vars)
	if err != nil {
		return false, err
	}
	activation := make(map[string]any, len(vars))
	for _, name := range vars {
		if name == DataVariable {
			if _, shadowed := data[DataVariable]; !shadowed {
				activation[name] = data
				continue
			}
		}
		activation[name] = data[name]
	}
	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("evaluation aborted: %w", ctxErr)
		}
		if strings.Contains(err.Error(), "cost limit exceeded") {
			return false, fmt.Errorf("expression exceeded cost limit %d: %w", e.costLimit, err)
		}
		return false, fmt.Errorf("failed to evaluate %q: %w", expression, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q must evaluate to boolean, got %s", expression, out.Type().TypeName())
	}
	return result, nil
}

// ValidateExpression checks the syntax of expression.
func (e *CELEvaluator) ValidateExpression(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return errors.New("invalid expression: empty")
	}
	if _, iss := e.env.Parse(expression); iss != nil && iss.Err() != nil {
		return fmt.Errorf("invalid expression, compilation failed: %w", iss.Err())
	}
	return nil
}

func (e *CELEvaluator) program(expression string, vars []string) (cel.Program, error) {
	key := strings.Join(vars, ",") + "\x00" + expression
	if prg, ok := e.programCache.Get(key); ok {
		return prg, nil
	}
	env, err := e.envFor(vars)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compilation failed for %q: %w", expression, iss.Err())
	}
	prg, err := env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for %q: %w", expression, err)
	}
	e.programCache.Set(key, prg, 1)
	return prg, nil
}

func (e *CELEvaluator) envFor(vars []string) (*cel.Env, error) {
	key := strings.Join(vars, ",")
	if env, ok := e.envs.Load(key); ok {
		return env.(*cel.Env), nil
	}
	decls := make([]cel.EnvOption, 0, len(vars))
	for _, name := range vars {
		decls = append(decls, cel.Variable(name, cel.DynType))
	}
	env, err := e.env.Extend(decls...)
	if err != nil {
		return nil, fmt.Errorf("failed to declare variables: %w", err)
	}
	actual, _ := e.envs.LoadOrStore(key, env)
	return actual.(*cel.Env), nil
}

// variables lists the sorted identifier keys of data plus DataVariable.
func variables(data map[string]any) []string {
	out := []string{DataVariable}
	for _, k := range slices.Sorted(maps.Keys(data)) {
		if k == DataVariable || !identifier.MatchString(k) {
			continue
		}
		if _, ok := reserved[k]; ok {
			continue
		}
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
