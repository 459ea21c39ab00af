package appstate

import (
	"context"
	"fmt"

	"github.com/compozy/tasktree/engine/definition"
	"github.com/compozy/tasktree/engine/runner"
	"github.com/gin-gonic/gin"
)

type contextKey string

const stateKey contextKey = "app_state"

// State carries the services handlers need.
type State struct {
	Definitions *definition.Registry
	Runner      *runner.Runner
}

func NewState(defs *definition.Registry, run *runner.Runner) (*State, error) {
	if defs == nil {
		return nil, fmt.Errorf("definition registry is required")
	}
	if run == nil {
		return nil, fmt.Errorf("runner is required")
	}
	return &State{Definitions: defs, Runner: run}, nil
}

func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateKey, state)
}

func GetState(ctx context.Context) (*State, error) {
	state, ok := ctx.Value(stateKey).(*State)
	if !ok {
		return nil, fmt.Errorf("app state not found in context")
	}
	return state, nil
}

// StateMiddleware attaches state to every request context.
func StateMiddleware(state *State) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithState(c.Request.Context(), state))
		c.Next()
	}
}
