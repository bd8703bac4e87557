// Package ws implements the WebSocket edge: the connection manager with its
// subscription indexes, heartbeats and bounded broadcast fan-out, plus the
// JSON frame protocol.
package ws

import "time"

// Client frame types.
const (
	FrameSubscribe         = "subscribe"
	FrameUnsubscribe       = "unsubscribe"
	FrameHeartbeatResponse = "heartbeat_response"
	FramePing              = "ping"
	FrameGetSubscriptions  = "get_subscriptions"
)

// Server frame types.
const (
	FrameConnectionAck     = "connection_ack"
	FrameSubscribeAck      = "subscribe_ack"
	FrameUnsubscribeAck    = "unsubscribe_ack"
	FrameHeartbeat         = "heartbeat"
	FramePong              = "pong"
	FrameSubscriptionsList = "subscriptions_list"
	FrameData              = "data"
	FrameError             = "error"
)

// ClientFrame is an inbound JSON frame.
type ClientFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// ServerFrame is an outbound JSON frame. Unused fields stay absent on the
// wire.
type ServerFrame struct {
	Type          string   `json:"type"`
	ClientID      string   `json:"client_id,omitempty"`
	Topic         string   `json:"topic,omitempty"`
	Data          any      `json:"data,omitempty"`
	Subscriptions []string `json:"subscriptions,omitempty"`
	Timestamp     string   `json:"timestamp,omitempty"`
	ErrorCode     string   `json:"error_code,omitempty"`
	ErrorMessage  string   `json:"error_message,omitempty"`
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func connectionAck(clientID string, now time.Time) ServerFrame {
	return ServerFrame{Type: FrameConnectionAck, ClientID: clientID, Timestamp: stamp(now)}
}

func subscribeAck(topic string) ServerFrame {
	return ServerFrame{Type: FrameSubscribeAck, Topic: topic}
}

func unsubscribeAck(topic string) ServerFrame {
	return ServerFrame{Type: FrameUnsubscribeAck, Topic: topic}
}

func heartbeatFrame(now time.Time) ServerFrame {
	return ServerFrame{Type: FrameHeartbeat, Timestamp: stamp(now)}
}

func pongFrame(now time.Time) ServerFrame {
	return ServerFrame{Type: FramePong, Timestamp: stamp(now)}
}

func subscriptionsList(topics []string) ServerFrame {
	return ServerFrame{Type: FrameSubscriptionsList, Subscriptions: topics}
}

func errorFrame(code, msg string) ServerFrame {
	return ServerFrame{Type: FrameError, ErrorCode: code, ErrorMessage: msg}
}

// DataFrame packages one topic push.
func DataFrame(topic string, data any, now time.Time) ServerFrame {
	return ServerFrame{Type: FrameData, Topic: topic, Data: data, Timestamp: stamp(now)}
}
