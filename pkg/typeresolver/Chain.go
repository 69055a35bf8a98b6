// Package typeresolver resolves the interface types of remote services through an ordered
// chain of loader strategies.
//
// Remote services declare the interfaces they implement by name. The implementation of these
// interfaces lives on the server. Before a proxy can be built the client needs the interface
// descriptor, which is obtained from the first loader in the chain that knows the name:
//  1. the connection-scoped remote command channel
//  2. the server-declared codebase
//  3. the local default table
//
// A Chain belongs to a single connection. Resolved types are cached in the chain so that
// every proxy of that connection shares the same *Type for the same name.
package typeresolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by a loader that does not know the type
var ErrNotFound = errors.New("type not found")

// Type describes a remote interface: its name and the method IDs that can be invoked on it
type Type struct {
	Name    string   `json:"name"`
	Methods []string `json:"methods"`
	// Loader is the name of the loader strategy that resolved this type
	Loader string `json:"-"`
}

// HasMethod returns true if the type declares the method ID
func (t *Type) HasMethod(method string) bool {
	for _, m := range t.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Loader is a single type loading strategy
type Loader interface {
	// Name of the strategy, for logging and diagnostics
	Name() string
	// Load the type with the given name. Returns ErrNotFound (or wraps it) if unknown.
	Load(ctx context.Context, typeName string) (*Type, error)
}

// NotFoundError is returned when no loader in the chain could resolve a type.
// It unwraps to the cause reported by the last loader that was tried.
type NotFoundError struct {
	TypeName string
	Tried    []string
	Cause    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("type '%s' not found (tried: %s): %v",
		e.TypeName, strings.Join(e.Tried, ", "), e.Cause)
}

func (e *NotFoundError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrNotFound) true for the aggregate error
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Chain tries its loaders in order and stops at the first that succeeds
type Chain struct {
	loaders    []Loader
	cache      map[string]*Type
	cacheMutex sync.RWMutex
}

// Loaders returns the names of the loaders in the order they are tried
func (chain *Chain) Loaders() []string {
	names := make([]string, 0, len(chain.loaders))
	for _, l := range chain.loaders {
		names = append(names, l.Name())
	}
	return names
}

// Resolve returns the type with the given name.
// Cached types are returned without consulting the loaders.
func (chain *Chain) Resolve(ctx context.Context, typeName string) (*Type, error) {
	chain.cacheMutex.RLock()
	t, found := chain.cache[typeName]
	chain.cacheMutex.RUnlock()
	if found {
		return t, nil
	}

	notFound := &NotFoundError{TypeName: typeName, Cause: ErrNotFound}
	for _, loader := range chain.loaders {
		notFound.Tried = append(notFound.Tried, loader.Name())
		t, err := loader.Load(ctx, typeName)
		if err != nil {
			logrus.Debugf("Resolve: loader '%s' failed for type '%s': %s", loader.Name(), typeName, err)
			notFound.Cause = err
			continue
		}
		if t == nil {
			notFound.Cause = ErrNotFound
			continue
		}
		resolved := *t
		resolved.Name = typeName
		resolved.Loader = loader.Name()

		chain.cacheMutex.Lock()
		defer chain.cacheMutex.Unlock()
		// another caller may have resolved it meanwhile; keep the first
		if existing, found := chain.cache[typeName]; found {
			return existing, nil
		}
		chain.cache[typeName] = &resolved
		return &resolved, nil
	}
	logrus.Warningf("Resolve: %s", notFound)
	return nil, notFound
}

// ResolveAll resolves each of the names, failing on the first that cannot be resolved
func (chain *Chain) ResolveAll(ctx context.Context, typeNames ...string) ([]*Type, error) {
	types := make([]*Type, 0, len(typeNames))
	for _, name := range typeNames {
		t, err := chain.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// NewChain creates a resolver chain. Nil loaders are skipped.
func NewChain(loaders ...Loader) *Chain {
	chain := &Chain{
		cache: make(map[string]*Type),
	}
	for _, l := range loaders {
		if l != nil {
			chain.loaders = append(chain.loaders, l)
		}
	}
	return chain
}
