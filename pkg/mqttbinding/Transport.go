package mqttbinding

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/rpc"
)

// DefaultTimeout to wait for the broker and for a response
const DefaultTimeout = 10 * time.Second

// ErrResponseTimeout is returned when the server doesn't respond in time
var ErrResponseTimeout = errors.New("no response from server")

// ErrConnectionLost is returned for calls that were pending when the broker connection dropped
var ErrConnectionLost = errors.New("broker connection lost")

// qos of all messages
const qos = 1

// Transport exchanges JSON-RPC requests and responses through a message broker
type Transport struct {
	client        mqtt.Client
	binding       string
	clientID      string
	timeout       time.Duration
	pending       map[string]chan *rpc.Response
	pendingMutex  sync.Mutex
	connectionErr error
}

// ClientID of the transport on the broker
func (tp *Transport) ClientID() string { return tp.clientID }

// Call publishes the request and waits for the response
func (tp *Transport) Call(ctx context.Context, method string, params any, result any) error {
	id := uuid.NewString()
	req, err := rpc.NewRequest(id, method, params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(&requestEnvelope{ReplyTo: ResponseTopic(tp.binding, tp.clientID), Request: *req})
	if err != nil {
		return err
	}
	replyChan := make(chan *rpc.Response, 1)
	tp.pendingMutex.Lock()
	if tp.connectionErr != nil {
		tp.pendingMutex.Unlock()
		return tp.connectionErr
	}
	tp.pending[id] = replyChan
	tp.pendingMutex.Unlock()
	defer func() {
		tp.pendingMutex.Lock()
		delete(tp.pending, id)
		tp.pendingMutex.Unlock()
	}()

	token := tp.client.Publish(RequestTopic(tp.binding), qos, false, payload)
	if !token.WaitTimeout(tp.timeout) {
		return fmt.Errorf("%s: publish: %w", method, ErrResponseTimeout)
	}
	if err = token.Error(); err != nil {
		return fmt.Errorf("%s: publish: %w", method, err)
	}
	select {
	case resp := <-replyChan:
		if resp == nil {
			return fmt.Errorf("%s: %w", method, ErrConnectionLost)
		}
		return resp.DecodeResult(result)
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(tp.timeout):
		return fmt.Errorf("%s: %w", method, ErrResponseTimeout)
	}
}

// onResponse passes a response to the pending call
func (tp *Transport) onResponse(_ mqtt.Client, msg mqtt.Message) {
	resp := &rpc.Response{}
	if err := json.Unmarshal(msg.Payload(), resp); err != nil {
		logrus.Warningf("onResponse: invalid response on '%s': %s", msg.Topic(), err)
		return
	}
	id := requestID(resp.ID)
	tp.pendingMutex.Lock()
	defer tp.pendingMutex.Unlock()
	replyChan, found := tp.pending[id]
	if !found {
		logrus.Infof("onResponse: no pending request '%s'", id)
		return
	}
	// the channel is buffered and removed after the one response it takes
	delete(tp.pending, id)
	replyChan <- resp
}

// onConnectionLost fails all pending calls
func (tp *Transport) onConnectionLost(_ mqtt.Client, err error) {
	logrus.Warningf("onConnectionLost: %s", err)
	tp.pendingMutex.Lock()
	defer tp.pendingMutex.Unlock()
	tp.connectionErr = fmt.Errorf("%w: %s", ErrConnectionLost, err)
	for id, replyChan := range tp.pending {
		close(replyChan)
		delete(tp.pending, id)
	}
}

// Close unsubscribes and disconnects from the broker
func (tp *Transport) Close() error {
	tp.pendingMutex.Lock()
	if tp.connectionErr == nil {
		tp.connectionErr = communication.ErrNotConnected
	}
	tp.pendingMutex.Unlock()
	if tp.client.IsConnected() {
		tp.client.Unsubscribe(ResponseTopic(tp.binding, tp.clientID)).WaitTimeout(tp.timeout)
		tp.client.Disconnect(250)
	}
	return nil
}

// connectClient connects a paho client to the broker
func connectClient(brokerURL string, clientID string, tlsConfig *tls.Config, timeout time.Duration,
	onLost mqtt.ConnectionLostHandler) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(false).
		SetConnectTimeout(timeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(onLost)
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connecting to broker '%s': %w", brokerURL, ErrResponseTimeout)
	}
	if err := token.Error(); err != nil {
		logrus.Warningf("connectClient: connecting to broker '%s' failed: %s", brokerURL, err)
		return nil, err
	}
	return client, nil
}

// Dial connects to the broker and subscribes to the response topic
//  brokerURL, eg tcp://localhost:1883 or ssl://localhost:8883
//  binding name of the server
//  tlsConfig for ssl brokers, nil for tcp
//  timeout of the broker connection and of each call. 0 for DefaultTimeout
func Dial(brokerURL string, binding string, tlsConfig *tls.Config, timeout time.Duration) (*Transport, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tp := &Transport{
		binding:  binding,
		clientID: "session-" + uuid.NewString(),
		timeout:  timeout,
		pending:  make(map[string]chan *rpc.Response),
	}
	client, err := connectClient(brokerURL, tp.clientID, tlsConfig, timeout, tp.onConnectionLost)
	if err != nil {
		return nil, err
	}
	tp.client = client
	token := client.Subscribe(ResponseTopic(binding, tp.clientID), qos, tp.onResponse)
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("subscribing to responses: %w", ErrResponseTimeout)
	}
	if err = token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("subscribing to responses: %w", err)
	}
	return tp, nil
}
