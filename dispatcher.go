package coachengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/models"
)

// HandlerFunc executes one application function. The returned payload is
// passed back to the model verbatim.
type HandlerFunc func(ctx context.Context, args models.Args) (json.RawMessage, error)

// Registry is an in-process FunctionDispatcher backed by registered
// handlers. It validates arguments against the declared schema before
// invoking a handler and converts every failure into a structured error
// result, never a panic or a lost turn.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registeredFunction
	approver Approver
	logger   zerolog.Logger
}

type registeredFunction struct {
	schema  models.FunctionSchema
	handler HandlerFunc
}

// NewRegistry creates an empty function registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]registeredFunction),
		approver: AllowAll{},
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// WithApprover sets the approval gate consulted before every dispatch.
func (r *Registry) WithApprover(approver Approver) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approver = approver
	return r
}

// Register adds a function. Re-registering a name replaces the handler.
func (r *Registry) Register(schema models.FunctionSchema, handler HandlerFunc) error {
	if schema.Name == "" {
		return fmt.Errorf("function schema must have a name")
	}
	if handler == nil {
		return fmt.Errorf("function %q must have a handler", schema.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[schema.Name] = registeredFunction{schema: schema, handler: handler}
	return nil
}

// Schemas returns the declared schemas of all registered functions.
func (r *Registry) Schemas() []models.FunctionSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]models.FunctionSchema, 0, len(r.handlers))
	for _, fn := range r.handlers {
		schemas = append(schemas, fn.schema)
	}
	return schemas
}

// Dispatch executes a model-requested call and always returns a structured
// result. Handler errors, unknown functions, missing arguments, and denied
// approvals all come back as error-shaped results.
func (r *Registry) Dispatch(ctx context.Context, call models.FunctionCall) (models.FunctionResult, error) {
	r.mu.RLock()
	fn, ok := r.handlers[call.Name]
	approver := r.approver
	r.mu.RUnlock()

	if !ok {
		return models.ErrorResult(call.ID, call.Name, fmt.Sprintf("unknown function: %s", call.Name)), nil
	}

	if err := validateArgs(fn.schema, call.Args); err != nil {
		r.logger.Warn().Err(err).Str("function", call.Name).Msg("argument validation failed")
		return models.ErrorResult(call.ID, call.Name, err.Error()), nil
	}

	approved, err := approver.Approve(call.Name, call.Args)
	if err != nil {
		return models.ErrorResult(call.ID, call.Name, "approval check failed: "+err.Error()), nil
	}
	if !approved {
		r.logger.Info().Str("function", call.Name).Msg("function call denied by approver")
		return models.ErrorResult(call.ID, call.Name, "the user declined this action"), nil
	}

	payload, err := fn.handler(ctx, call.Args)
	if err != nil {
		r.logger.Warn().Err(err).Str("function", call.Name).Msg("function handler failed")
		return models.ErrorResult(call.ID, call.Name, err.Error()), nil
	}

	return models.FunctionResult{
		CallID:  call.ID,
		Name:    call.Name,
		Payload: payload,
	}, nil
}

func validateArgs(schema models.FunctionSchema, args models.Args) error {
	for _, param := range schema.Parameters {
		if !param.Required {
			continue
		}
		if _, ok := args[param.Name]; !ok {
			return fmt.Errorf("missing required argument %q", param.Name)
		}
	}
	return nil
}

// Approver gates function execution. The model proposes calls; the approver
// decides whether they run.
type Approver interface {
	Approve(name string, args models.Args) (bool, error)
}

// AllowAll approves every function call. Suitable when all registered
// functions are side-effect-safe.
type AllowAll struct{}

func (AllowAll) Approve(string, models.Args) (bool, error) { return true, nil }

// AllowList approves only the named functions.
type AllowList map[string]bool

func (l AllowList) Approve(name string, _ models.Args) (bool, error) {
	return l[name], nil
}
