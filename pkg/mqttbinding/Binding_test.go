package mqttbinding_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/executor"
	"github.com/wostzone/wost-session/pkg/logging"
	"github.com/wostzone/wost-session/pkg/mqttbinding"
	"github.com/wostzone/wost-session/pkg/remoteserver"
	"github.com/wostzone/wost-session/pkg/rpc"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/settings"
)

// testBrokerEnv names the environment variable with the host:port of a test broker
const testBrokerEnv = "SESSION_TEST_MQTT_BROKER"

// TestMain sets logging
func TestMain(m *testing.M) {
	logging.SetLogging("info", "")
	os.Exit(m.Run())
}

func createLoginInfo(t *testing.T, host string, port int, password string) *session.LoginInfo {
	cs, err := settings.CreateConnectionSettings(mqttbinding.Protocol, host, port)
	require.NoError(t, err)
	info, err := session.CreateLoginInfo(session.ClientIdentity{ID: "mqtt-test"}, session.ContextSelection{},
		session.NewPasswordEntry(remoteserver.DemoUser, password), cs, "")
	require.NoError(t, err)
	return info
}

func TestTopics(t *testing.T) {
	logrus.Infof("--- TestTopics ---")
	assert.Equal(t, "session/demo/request", mqttbinding.RequestTopic("demo"))
	topic := mqttbinding.ResponseTopic("demo", "client-1")
	assert.Equal(t, "session/demo/response/client-1", topic)

	binding, clientID := mqttbinding.SplitResponseTopic(topic)
	assert.Equal(t, "demo", binding)
	assert.Equal(t, "client-1", clientID)
	binding, clientID = mqttbinding.SplitResponseTopic("session/demo/request")
	assert.Empty(t, binding)
	assert.Empty(t, clientID)
}

func TestHandleMessage(t *testing.T) {
	logrus.Infof("--- TestHandleMessage ---")
	ctx := context.Background()
	responder := mqttbinding.NewResponder(remoteserver.NewDemoServer(0), "")
	info := createLoginInfo(t, "localhost", 1883, remoteserver.DemoPassword)
	payload, err := info.Payload()
	require.NoError(t, err)

	request := func(method string, params any) []byte {
		req, err := rpc.NewRequest("req-1", method, params)
		require.NoError(t, err)
		raw, err := json.Marshal(req)
		require.NoError(t, err)
		// add the reply topic to the request
		return []byte(strings.Replace(string(raw), "{", `{"replyTo":"session/session/response/c1",`, 1))
	}

	// step 1 stateless methods are answered on the reply topic
	replyTo, response := responder.HandleMessage(ctx, request(rpc.MethodStatelessConnect, &rpc.ConnectParams{Login: payload}))
	assert.Equal(t, "session/session/response/c1", replyTo)
	resp := rpc.Response{}
	require.NoError(t, json.Unmarshal(response, &resp))
	assert.Nil(t, resp.Error)
	assert.Equal(t, `"req-1"`, string(resp.ID))

	// step 2 stateful methods are refused
	_, response = responder.HandleMessage(ctx, request(rpc.MethodConnect, &rpc.ConnectParams{Login: payload}))
	resp = rpc.Response{}
	require.NoError(t, json.Unmarshal(response, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, communication.CodeMethodNotFound, resp.Error.Code)

	// step 3 requests without a reply topic are dropped
	replyTo, _ = responder.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"type.resolve"}`))
	assert.Empty(t, replyTo)
	replyTo, _ = responder.HandleMessage(ctx, []byte(`not json`))
	assert.Empty(t, replyTo)
}

func TestCommunication(t *testing.T) {
	logrus.Infof("--- TestCommunication ---")
	comm := mqttbinding.NewCommunication(nil)
	assert.Equal(t, mqttbinding.Protocol, comm.Protocol())

	_, err := comm.Connect(context.Background(), createLoginInfo(t, "localhost", 1883, remoteserver.DemoPassword))
	assert.ErrorIs(t, err, communication.ErrNotSupported)

	assert.True(t, comm.ShouldRetryOnFailure(fmt.Errorf("call: %w", mqttbinding.ErrConnectionLost)))
	assert.True(t, comm.ShouldRetryOnFailure(mqtt.ErrNotConnected))
	assert.False(t, comm.ShouldRetryOnFailure(fmt.Errorf("call: %w", mqttbinding.ErrResponseTimeout)))
	assert.False(t, comm.ShouldRetryOnFailure(nil))

	registry := communication.NewRegistry()
	comm.Register(registry, mqttbinding.DefaultBinding)
	assert.Same(t, comm, registry.Lookup(settings.TransportID{
		Protocol: mqttbinding.Protocol, Kind: settings.KindStateless, Name: mqttbinding.DefaultBinding}))
	assert.Nil(t, registry.Lookup(settings.TransportID{
		Protocol: mqttbinding.Protocol, Kind: settings.KindStateful, Name: mqttbinding.DefaultBinding}))

	cs, _ := settings.CreateConnectionSettings(mqttbinding.Protocol, "broker", 8883, settings.WithMutualTLS("ks.jwe", "pw"))
	assert.Equal(t, "ssl://broker:8883", mqttbinding.BrokerURL(cs))

	// the codebase client only differs from the default with mutual TLS
	client, err := comm.CodebaseClient(createLoginInfo(t, "localhost", 1883, remoteserver.DemoPassword))
	assert.NoError(t, err)
	assert.Nil(t, client)
	tlsInfo, err := session.CreateLoginInfo(session.ClientIdentity{ID: "mqtt-test"}, session.ContextSelection{},
		session.NewPasswordEntry(remoteserver.DemoUser, remoteserver.DemoPassword), cs, "")
	require.NoError(t, err)
	_, err = comm.CodebaseClient(tlsInfo)
	assert.Error(t, err)
}

// TestBrokerRoundTrip needs a running broker, eg SESSION_TEST_MQTT_BROKER=localhost:1883
func TestBrokerRoundTrip(t *testing.T) {
	logrus.Infof("--- TestBrokerRoundTrip ---")
	broker := os.Getenv(testBrokerEnv)
	if broker == "" {
		t.Skipf("%s is not set", testBrokerEnv)
	}
	host, portText, found := strings.Cut(broker, ":")
	require.True(t, found)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	ctx := context.Background()

	responder := mqttbinding.NewResponder(remoteserver.NewDemoServer(0), "")
	err = responder.Start("tcp://"+broker, nil)
	require.NoError(t, err)
	defer responder.Stop()

	comm := mqttbinding.NewCommunication(nil)
	info := createLoginInfo(t, host, port, remoteserver.DemoPassword)
	env, err := communication.NewStatelessEnvironment(ctx, comm, info, executor.NewDirectExecutor(nil))
	require.NoError(t, err)
	defer env.Close()
	echo, err := env.NewProxy(ctx, &communication.ServiceDescriptor{
		Name: remoteserver.DemoEchoService, Interfaces: []string{remoteserver.DemoEchoType.Name}})
	require.NoError(t, err)
	reply, err := echo.Call(ctx, "upper", "over the broker")
	require.NoError(t, err)
	assert.Equal(t, "OVER THE BROKER", reply)

	_, err = comm.GetStatelessEntry(ctx, createLoginInfo(t, host, port, "wrong"))
	assert.True(t, communication.IsAuthenticationFailure(err))
}
