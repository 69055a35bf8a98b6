package remoteserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/rpc"
)

// LoopbackTransport is an rpc.Transport that calls the server in-process.
// Requests and responses are JSON encoded as they would be on the wire.
type LoopbackTransport struct {
	server  *Server
	address string
	closed  atomic.Bool
}

// Call the server method
func (tp *LoopbackTransport) Call(ctx context.Context, method string, params any, result any) error {
	if tp.closed.Load() {
		return communication.ErrNotConnected
	}
	req, err := rpc.NewRequest(uuid.NewString(), method, params)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	received := rpc.Request{}
	if err = json.Unmarshal(raw, &received); err != nil {
		return err
	}
	resp := tp.server.HandleRequest(ctx, &received, tp.address)
	raw, err = json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response failed: %w", err)
	}
	decoded := rpc.Response{}
	if err = json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return decoded.DecodeResult(result)
}

// Close the transport. Further calls fail.
func (tp *LoopbackTransport) Close() error {
	tp.closed.Store(true)
	return nil
}

// Closed returns true after Close
func (tp *LoopbackTransport) Closed() bool {
	return tp.closed.Load()
}

// NewLoopbackTransport creates a transport to the server
//  address is the client address the server sees
func NewLoopbackTransport(server *Server, address string) *LoopbackTransport {
	return &LoopbackTransport{server: server, address: address}
}
