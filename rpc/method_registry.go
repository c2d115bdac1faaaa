package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrMethodNotFound is returned when a method is not registered.
	ErrMethodNotFound = errors.New("rpc: method not found")

	// ErrDuplicateMethod is returned when registering an already-registered method.
	ErrDuplicateMethod = errors.New("rpc: duplicate method")

	// ErrInvalidParams is returned when a method receives params it cannot use.
	ErrInvalidParams = errors.New("rpc: invalid params")
)

// MethodHandler handles one RPC method call.
type MethodHandler func(ctx context.Context, params []json.RawMessage) (interface{}, error)

// Middleware wraps a method call. It receives the method name, params,
// and the next handler to call.
type Middleware func(ctx context.Context, method string, params []json.RawMessage, next MethodHandler) (interface{}, error)

// MethodInfo describes a registered RPC method.
type MethodInfo struct {
	Name        string
	Handler     MethodHandler
	Description string
	// MinParams and MaxParams bound the param count. MaxParams -1 means
	// no upper bound.
	MinParams int
	MaxParams int
}

// Namespace returns the prefix of the method name, e.g. "debug".
func (m MethodInfo) Namespace() string { return NamespaceFromMethod(m.Name) }

// MethodRegistry is a thread-safe registry for RPC methods with middleware support.
type MethodRegistry struct {
	mu         sync.RWMutex
	methods    map[string]MethodInfo
	middleware []Middleware
}

// NewMethodRegistry creates a new, empty method registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{
		methods: make(map[string]MethodInfo),
	}
}

// Register adds a method to the registry. Returns ErrDuplicateMethod if
// a method with the same name is already registered.
func (r *MethodRegistry) Register(info MethodInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[info.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, info.Name)
	}
	r.methods[info.Name] = info
	return nil
}

// RegisterBatch registers multiple methods, stopping at the first error.
func (r *MethodRegistry) RegisterBatch(methods []MethodInfo) error {
	for _, m := range methods {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Call dispatches a method call through the middleware chain and then to
// the registered handler.
func (r *MethodRegistry) Call(ctx context.Context, method string, params []json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	info, exists := r.methods[method]
	mw := make([]Middleware, len(r.middleware))
	copy(mw, r.middleware)
	r.mu.RUnlock()

	handler := func(ctx context.Context, p []json.RawMessage) (interface{}, error) {
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
		}
		if len(p) < info.MinParams || (info.MaxParams >= 0 && len(p) > info.MaxParams) {
			return nil, fmt.Errorf("%w: %s takes %s params, got %d",
				ErrInvalidParams, method, info.paramRange(), len(p))
		}
		return info.Handler(ctx, p)
	}
	// The first added middleware is the outermost.
	for i := len(mw) - 1; i >= 0; i-- {
		currentMW := mw[i]
		next := handler
		handler = func(ctx context.Context, p []json.RawMessage) (interface{}, error) {
			return currentMW(ctx, method, p, next)
		}
	}
	return handler(ctx, params)
}

func (m MethodInfo) paramRange() string {
	switch {
	case m.MinParams == m.MaxParams:
		return fmt.Sprint(m.MinParams)
	case m.MaxParams < 0:
		return fmt.Sprintf("at least %d", m.MinParams)
	default:
		return fmt.Sprintf("%d to %d", m.MinParams, m.MaxParams)
	}
}

// Methods returns a sorted list of all registered method names.
func (r *MethodRegistry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasMethod returns true if the named method is registered.
func (r *MethodRegistry) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.methods[name]
	return exists
}

// AddMiddleware appends a middleware to the chain. Middleware run in the
// order they are added.
func (r *MethodRegistry) AddMiddleware(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.middleware = append(r.middleware, mw)
}

// NamespaceFromMethod extracts the namespace from a method name.
// For example, "debug_solidityStackTrace" returns "debug".
func NamespaceFromMethod(method string) string {
	idx := strings.Index(method, "_")
	if idx < 0 {
		return ""
	}
	return method[:idx]
}
