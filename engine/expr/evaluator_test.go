package expr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEvaluator(t *testing.T) {
	t.Run("Should create evaluator with defaults", func(t *testing.T) {
		evaluator, err := NewCELEvaluator()
		require.NoError(t, err)
		assert.NotNil(t, evaluator.env)
		assert.NotNil(t, evaluator.programCache)
		assert.Equal(t, uint64(DefaultCostLimit), evaluator.costLimit)
		assert.Equal(t, int64(DefaultCacheSize), evaluator.cacheSize)
	})
	t.Run("Should apply options", func(t *testing.T) {
		evaluator, err := NewCELEvaluator(WithCostLimit(500), WithCacheSize(3))
		require.NoError(t, err)
		assert.Equal(t, uint64(500), evaluator.costLimit)
		assert.Equal(t, int64(3), evaluator.cacheSize)
	})
}

func TestCELEvaluator_Evaluate(t *testing.T) {
	evaluator, err := NewCELEvaluator()
	require.NoError(t, err)
	t.Cleanup(evaluator.Close)
	ctx := context.Background()

	t.Run("Should evaluate conditions over top level keys", func(t *testing.T) {
		ok, err := evaluator.Evaluate(ctx, `x > 5 && status == "open"`, map[string]any{"x": 7, "status": "open"})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = evaluator.Evaluate(ctx, `x > 5`, map[string]any{"x": 3})
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("Should compare ints with doubles", func(t *testing.T) {
		ok, err := evaluator.Evaluate(ctx, `amount > 100`, map[string]any{"amount": 150.5})
		require.NoError(t, err)
		assert.True(t, ok)
	})
	t.Run("Should evaluate nested maps", func(t *testing.T) {
		data := map[string]any{
			"order": map[string]any{"valid": true, "score": 0.95, "items": []any{1, 2, 3}},
		}
		ok, err := evaluator.Evaluate(ctx, `order.valid && order.score > 0.8 && size(order.items) == 3`, data)
		require.NoError(t, err)
		assert.True(t, ok)
	})
	t.Run("Should expose non identifier keys through data", func(t *testing.T) {
		ok, err := evaluator.Evaluate(ctx, `data["user-id"] == "u1"`, map[string]any{"user-id": "u1"})
		require.NoError(t, err)
		assert.True(t, ok)
	})
	t.Run("Should support has() for optional fields", func(t *testing.T) {
		ok, err := evaluator.Evaluate(ctx, `has(order.note)`, map[string]any{"order": map[string]any{}})
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("Should report missing keys", func(t *testing.T) {
		ok, err := evaluator.Evaluate(ctx, `order.status == "approved"`, map[string]any{"order": map[string]any{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such key")
		assert.False(t, ok)
	})
	t.Run("Should report undeclared variables as compilation errors", func(t *testing.T) {
		_, err := evaluator.Evaluate(ctx, `missing > 1`, map[string]any{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "compilation")
	})
	t.Run("Should enforce type safety", func(t *testing.T) {
		_, err := evaluator.Evaluate(ctx, `count > 10`, map[string]any{"count": "not-a-number"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such overload")
	})
	t.Run("Should require a boolean result", func(t *testing.T) {
		_, err := evaluator.Evaluate(ctx, `status`, map[string]any{"status": "open"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boolean")
	})
	t.Run("Should reuse programs across evictions", func(t *testing.T) {
		small, err := NewCELEvaluator(WithCacheSize(2))
		require.NoError(t, err)
		defer small.Close()
		data := map[string]any{"v": 1}
		for _, expression := range []string{`v == 1`, `v > 0`, `v < 10`, `v != 0`, `v == 1`} {
			ok, err := small.Evaluate(ctx, expression, data)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})
}

func TestCELEvaluator_Context(t *testing.T) {
	evaluator, err := NewCELEvaluator()
	require.NoError(t, err)

	t.Run("Should stop on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ok, err := evaluator.Evaluate(ctx, `x == 1`, map[string]any{"x": 1})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, ok)
	})
	t.Run("Should stop on expired deadline", func(t *testing.T) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()
		_, err := evaluator.Evaluate(ctx, `x == 1`, map[string]any{"x": 1})
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestCELEvaluator_ValidateExpression(t *testing.T) {
	evaluator, err := NewCELEvaluator()
	require.NoError(t, err)

	t.Run("Should accept expressions over unknown variables", func(t *testing.T) {
		assert.NoError(t, evaluator.ValidateExpression(`amount > 100`))
	})
	t.Run("Should reject syntax errors", func(t *testing.T) {
		err := evaluator.ValidateExpression(`amount >`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid")
	})
	t.Run("Should reject empty expressions", func(t *testing.T) {
		assert.Error(t, evaluator.ValidateExpression("  "))
	})
}

func TestCELEvaluator_CostLimit(t *testing.T) {
	t.Run("Should fail or succeed correctly under a tight cost limit", func(t *testing.T) {
		evaluator, err := NewCELEvaluator(WithCostLimit(5))
		require.NoError(t, err)
		ok, err := evaluator.Evaluate(
			context.Background(),
			`v + v + v + v + v + v + v + v == "xxxxxxxx"`,
			map[string]any{"v": "x"},
		)
		if err != nil {
			assert.Contains(t, err.Error(), "exceeded cost limit")
			return
		}
		assert.True(t, ok)
	})
}
