package typeresolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Names of the standard loader strategies
const (
	LoaderRemote   = "remote"
	LoaderCodebase = "codebase"
	LoaderLocal    = "local"
)

// RemoteChannel asks the connected server for a type descriptor
type RemoteChannel func(ctx context.Context, typeName string) (*Type, error)

// RemoteLoader resolves types through the command channel of the connection it belongs to
type RemoteLoader struct {
	channel RemoteChannel
}

func (l *RemoteLoader) Name() string { return LoaderRemote }

func (l *RemoteLoader) Load(ctx context.Context, typeName string) (*Type, error) {
	if l.channel == nil {
		return nil, ErrNotFound
	}
	return l.channel(ctx, typeName)
}

// NewRemoteLoader creates a loader on the given connection-scoped channel
func NewRemoteLoader(channel RemoteChannel) *RemoteLoader {
	return &RemoteLoader{channel: channel}
}

// CodebaseLoader resolves types from the server-declared codebase URL.
// The descriptor of type "a.b.C" is fetched from {codebase}/a.b.C as JSON.
type CodebaseLoader struct {
	codebase string
	client   *resty.Client
}

func (l *CodebaseLoader) Name() string { return LoaderCodebase }

func (l *CodebaseLoader) Load(ctx context.Context, typeName string) (*Type, error) {
	if l.codebase == "" {
		return nil, fmt.Errorf("no codebase declared: %w", ErrNotFound)
	}
	t := &Type{}
	resp, err := l.client.R().
		SetContext(ctx).
		SetResult(t).
		Get(strings.TrimSuffix(l.codebase, "/") + "/" + url.PathEscape(typeName))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("codebase %s: %w", l.codebase, ErrNotFound)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("codebase %s: %s", l.codebase, resp.Status())
	}
	return t, nil
}

// NewCodebaseLoader creates a loader for the given codebase URL.
//  client is the http client to use, configured with the connection TLS settings. nil for a default client.
func NewCodebaseLoader(codebase string, client *resty.Client) *CodebaseLoader {
	if client == nil {
		client = resty.New()
	}
	return &CodebaseLoader{codebase: codebase, client: client}
}

// LocalLoader resolves types from a fixed table of types compiled into the client
type LocalLoader struct {
	types map[string]*Type
}

func (l *LocalLoader) Name() string { return LoaderLocal }

func (l *LocalLoader) Load(_ context.Context, typeName string) (*Type, error) {
	t, found := l.types[typeName]
	if !found {
		return nil, ErrNotFound
	}
	return t, nil
}

// NewLocalLoader creates the default loader with the given types
func NewLocalLoader(types ...*Type) *LocalLoader {
	l := &LocalLoader{types: make(map[string]*Type, len(types))}
	for _, t := range types {
		l.types[t.Name] = t
	}
	return l
}

// NewConnectionChain creates the standard resolver chain for one connection:
// remote channel first, then the server-declared codebase, then the local types.
func NewConnectionChain(channel RemoteChannel, codebase string, client *resty.Client, localTypes ...*Type) *Chain {
	return NewChain(
		NewRemoteLoader(channel),
		NewCodebaseLoader(codebase, client),
		NewLocalLoader(localTypes...),
	)
}
