package httpbinding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/rpc"
)

// ErrServerUnavailable is returned when a gateway in front of the server reports it unavailable
var ErrServerUnavailable = errors.New("server unavailable")

// Transport posts JSON-RPC requests to the rpc endpoint of the server
type Transport struct {
	client   *resty.Client
	endpoint string
	closed   atomic.Bool
}

// Endpoint URL the requests are posted to
func (tp *Transport) Endpoint() string { return tp.endpoint }

// Call the remote method and decode its result
func (tp *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if tp.closed.Load() {
		return communication.ErrNotConnected
	}
	req, err := rpc.NewRequest(uuid.NewString(), method, params)
	if err != nil {
		return err
	}
	resp := &rpc.Response{}
	httpResp, err := tp.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(resp).
		Post(tp.endpoint)
	if err != nil {
		logrus.Infof("Call: %s to %s failed: %s", method, tp.endpoint, err)
		return fmt.Errorf("%s: %w", method, err)
	}
	switch httpResp.StatusCode() {
	case http.StatusOK:
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w: %s", method, ErrServerUnavailable, httpResp.Status())
	default:
		return fmt.Errorf("%s: unexpected response %s", method, httpResp.Status())
	}
	return resp.DecodeResult(result)
}

// Close the transport. Further calls fail.
func (tp *Transport) Close() error {
	if tp.closed.CompareAndSwap(false, true) {
		tp.client.GetClient().CloseIdleConnections()
	}
	return nil
}

// NewTransport creates a transport for the rpc endpoint
//  client is the http client to use
//  baseURL of the binding, see BaseURL
func NewTransport(client *resty.Client, baseURL string) *Transport {
	return &Transport{client: client, endpoint: baseURL + RPCPath}
}
