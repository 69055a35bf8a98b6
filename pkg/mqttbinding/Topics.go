package mqttbinding

import (
	"encoding/json"
	"strings"

	"github.com/wostzone/wost-session/pkg/rpc"
)

// Topics of the request/response exchange.
// {binding} is the server binding name, {clientID} the MQTT client ID of the requester.
const (
	TopicRequest  = "session/{binding}/request"
	TopicResponse = "session/{binding}/response/{clientID}"
)

// RequestTopic returns the topic the server listens on
func RequestTopic(binding string) string {
	return strings.ReplaceAll(TopicRequest, "{binding}", binding)
}

// ResponseTopic returns the topic a client receives its responses on
func ResponseTopic(binding string, clientID string) string {
	topic := strings.ReplaceAll(TopicResponse, "{binding}", binding)
	return strings.ReplaceAll(topic, "{clientID}", clientID)
}

// SplitResponseTopic returns the binding and client ID of a response topic.
// Both are empty if the topic is not a response topic.
func SplitResponseTopic(topic string) (binding string, clientID string) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "session" || parts[2] != "response" {
		return "", ""
	}
	return parts[1], parts[3]
}

// requestEnvelope is a JSON-RPC request with the topic to publish the response on
type requestEnvelope struct {
	ReplyTo string `json:"replyTo"`
	rpc.Request
}

// requestID returns the string request ID, "" if the ID is not a string
func requestID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}
