package ppdbg

import "time"

// TopicField is the wire key naming a message's topic.
const TopicField = "event"

// ErrorField marks a reply as failed when present.
const ErrorField = "error"

// Synthetic topics emitted by the client itself, never received over the wire.
const (
	TopicConnection       = "connection"
	TopicConnectionChange = "connection.change"
)

// TopicVersion is the handshake request/reply topic.
const TopicVersion = "version"

// Message is a decoded wire frame: a JSON object whose "event" field is its topic.
type Message map[string]any

// Topic returns the message topic, or "" if missing or not a string.
func (m Message) Topic() string {
	t, _ := m[TopicField].(string)
	return t
}

// Payload returns a shallow copy of m without the topic field.
func (m Message) Payload() Message {
	out := make(Message, len(m))
	for k, v := range m {
		if k == TopicField {
			continue
		}
		out[k] = v
	}
	return out
}

// NewMessage builds a message for topic with the given fields.
func NewMessage(topic string, fields map[string]any) Message {
	m := make(Message, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	m[TopicField] = topic
	return m
}

// Handler receives the payload of a message delivered to a subscribed topic.
type Handler func(payload Message)

// Token identifies a subscription batch returned by Listen.
type Token string

// Connected reads the flag carried by a "connection.change" payload.
func Connected(payload Message) bool {
	v, _ := payload["connected"].(bool)
	return v
}

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrObj is the object form of a reply's error indicator.
type ErrObj struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerInfo is what the target reported in the version handshake.
type ServerInfo struct {
	Name    string
	Version string
	At      time.Time
}
