package mqttbinding

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/remoteserver"
	"github.com/wostzone/wost-session/pkg/rpc"
)

// statelessMethods are the methods a broker client may call
var statelessMethods = map[string]bool{
	rpc.MethodStatelessConnect: true,
	rpc.MethodInvokeStateless:  true,
	rpc.MethodResolveType:      true,
}

// Responder answers the requests that clients publish on the request topic of a binding
type Responder struct {
	backend *remoteserver.Server
	binding string
	client  mqtt.Client
	timeout time.Duration
}

// HandleMessage runs the request in the message payload and returns the topic and payload of the response.
// The reply topic is empty if the request can't be answered.
func (resp *Responder) HandleMessage(ctx context.Context, payload []byte) (replyTo string, response []byte) {
	envelope := requestEnvelope{}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.ReplyTo == "" {
		logrus.Warningf("HandleMessage: request without reply topic ignored")
		return "", nil
	}
	var rpcResp *rpc.Response
	if !statelessMethods[envelope.Method] {
		rpcResp = rpc.NewResponse(envelope.ID, nil, communication.NewRemoteError(communication.CodeMethodNotFound,
			"method '%s' is not available over mqtt", envelope.Method))
	} else {
		_, clientID := SplitResponseTopic(envelope.ReplyTo)
		rpcResp = resp.backend.HandleRequest(ctx, &envelope.Request, clientID)
	}
	response, err := json.Marshal(rpcResp)
	if err != nil {
		logrus.Errorf("HandleMessage: encoding response failed: %s", err)
		return "", nil
	}
	return envelope.ReplyTo, response
}

// onRequest handles a request message from the broker
func (resp *Responder) onRequest(client mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), resp.timeout)
	defer cancel()
	replyTo, response := resp.HandleMessage(ctx, msg.Payload())
	if replyTo == "" {
		return
	}
	token := client.Publish(replyTo, qos, false, response)
	if !token.WaitTimeout(resp.timeout) || token.Error() != nil {
		logrus.Warningf("onRequest: publishing response to '%s' failed: %v", replyTo, token.Error())
	}
}

// Start connects to the broker and subscribes to the request topic
//  brokerURL, eg tcp://localhost:1883
//  tlsConfig for ssl brokers, nil for tcp
func (resp *Responder) Start(brokerURL string, tlsConfig *tls.Config) error {
	client, err := connectClient(brokerURL, "session-responder-"+uuid.NewString(), tlsConfig, resp.timeout,
		func(_ mqtt.Client, err error) {
			logrus.Errorf("Responder: broker connection lost: %s", err)
		})
	if err != nil {
		return err
	}
	token := client.Subscribe(RequestTopic(resp.binding), qos, resp.onRequest)
	if !token.WaitTimeout(resp.timeout) {
		client.Disconnect(0)
		return ErrResponseTimeout
	}
	if err = token.Error(); err != nil {
		client.Disconnect(0)
		logrus.Errorf("Responder: subscribing to '%s' failed: %s", RequestTopic(resp.binding), err)
		return err
	}
	resp.client = client
	logrus.Infof("Responder: answering requests on '%s'", RequestTopic(resp.binding))
	return nil
}

// Stop disconnects from the broker
func (resp *Responder) Stop() {
	if resp.client == nil {
		return
	}
	resp.client.Unsubscribe(RequestTopic(resp.binding)).WaitTimeout(resp.timeout)
	resp.client.Disconnect(250)
	resp.client = nil
}

// NewResponder creates a responder for the backend
//  binding name. "" for DefaultBinding
func NewResponder(backend *remoteserver.Server, binding string) *Responder {
	if binding == "" {
		binding = DefaultBinding
	}
	return &Responder{backend: backend, binding: binding, timeout: DefaultTimeout}
}
