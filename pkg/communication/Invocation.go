package communication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wostzone/wost-session/pkg/session"
)

// Invocation is the dispatch record of a single proxy call
type Invocation struct {
	// Service name the call is addressed to
	Service string
	// Interface that declares the method
	Interface string
	// Method ID within the interface
	Method string
	// Args of the call, encoded by the transport
	Args []any
	// LoginInfo re-supplied on each stateless call. nil for stateful calls.
	LoginInfo *session.LoginInfo
}

// String returns service/interface.method for logging
func (inv *Invocation) String() string {
	return fmt.Sprintf("%s/%s.%s", inv.Service, inv.Interface, inv.Method)
}

// ResultKind is the variant tag of an InvocationResult
type ResultKind string

const (
	// ResultValue is a plain value
	ResultValue ResultKind = "value"
	// ResultService is a remote service that must be proxied on the client
	ResultService ResultKind = "service"
	// ResultComplex is a composite whose fields are exported one by one
	ResultComplex ResultKind = "complex"
)

// InvocationResult is the tagged union returned by an invocation.
// Only the field matching the Kind is used.
type InvocationResult struct {
	Kind    ResultKind                   `json:"kind"`
	Value   json.RawMessage              `json:"value,omitempty"`
	Service *ServiceDescriptor           `json:"service,omitempty"`
	Fields  map[string]*InvocationResult `json:"fields,omitempty"`
}

// Exporter turns a raw result into something usable on the client
type Exporter interface {
	Export(ctx context.Context, env *Environment, result *InvocationResult) (any, error)
}

// ValueExporter decodes a plain value
type ValueExporter struct{}

func (ValueExporter) Export(_ context.Context, _ *Environment, result *InvocationResult) (any, error) {
	if len(result.Value) == 0 {
		return nil, nil
	}
	var value any
	err := json.Unmarshal(result.Value, &value)
	return value, err
}

// ServiceExporter creates a fresh proxy for a remote service
type ServiceExporter struct{}

func (ServiceExporter) Export(ctx context.Context, env *Environment, result *InvocationResult) (any, error) {
	if result.Service == nil {
		return nil, errors.New("service result without service descriptor")
	}
	if env == nil {
		return nil, errors.New("cannot export a service result without an environment")
	}
	return env.NewProxy(ctx, result.Service)
}

// ComplexExporter exports each field of a composite result
type ComplexExporter struct{}

func (ComplexExporter) Export(ctx context.Context, env *Environment, result *InvocationResult) (any, error) {
	exported := make(map[string]any, len(result.Fields))
	for name, field := range result.Fields {
		if field == nil {
			exported[name] = nil
			continue
		}
		value, err := field.Export(ctx, env)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", name, err)
		}
		exported[name] = value
	}
	return exported, nil
}

// Exporter returns the exporter responsible for this variant
func (r *InvocationResult) Exporter() (Exporter, error) {
	switch r.Kind {
	case ResultValue:
		return ValueExporter{}, nil
	case ResultService:
		return ServiceExporter{}, nil
	case ResultComplex:
		return ComplexExporter{}, nil
	}
	return nil, fmt.Errorf("unknown result kind '%s'", r.Kind)
}

// Export turns the result into a usable client value using its exporter
func (r *InvocationResult) Export(ctx context.Context, env *Environment) (any, error) {
	exporter, err := r.Exporter()
	if err != nil {
		return nil, err
	}
	return exporter.Export(ctx, env, r)
}

// NewValueResult encodes a plain value result
func NewValueResult(value any) (*InvocationResult, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &InvocationResult{Kind: ResultValue, Value: raw}, nil
}

// NewServiceResult creates a result that refers to a remote service
func NewServiceResult(descriptor ServiceDescriptor) *InvocationResult {
	return &InvocationResult{Kind: ResultService, Service: &descriptor}
}

// NewComplexResult creates a composite result
func NewComplexResult(fields map[string]*InvocationResult) *InvocationResult {
	return &InvocationResult{Kind: ResultComplex, Fields: fields}
}
