package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"

	MessageTypeAttributeUpdate   MessageType = "attribute_update"
	MessageTypeDiscoveryComplete MessageType = "discovery_complete"
	MessageTypeSystemState       MessageType = "system_state"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// AttributeUpdateData is sent whenever a polled or written value changes.
type AttributeUpdateData struct {
	Node      string    `json:"node"`
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DiscoveryData struct {
	SnapshotID string   `json:"snapshot_id"`
	Attributes int      `json:"attributes"`
	Failed     []string `json:"failed,omitempty"`
}

type SystemStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewAttributeUpdateMessage(node, name string, value any, updatedAt time.Time) Message {
	return NewMessage(MessageTypeAttributeUpdate, AttributeUpdateData{
		Node:      node,
		Name:      name,
		Value:     value,
		UpdatedAt: updatedAt,
	})
}

func NewDiscoveryMessage(snapshotID string, attributes int, failed []string) Message {
	return NewMessage(MessageTypeDiscoveryComplete, DiscoveryData{
		SnapshotID: snapshotID,
		Attributes: attributes,
		Failed:     failed,
	})
}

func NewSystemStateMessage(newState, previousState string) Message {
	return NewMessage(MessageTypeSystemState, SystemStateData{
		State:    newState,
		Previous: previousState,
	})
}

// node returns the controller node a message belongs to, if any.
func (m Message) node() (string, bool) {
	if data, ok := m.Data.(AttributeUpdateData); ok {
		return data.Node, true
	}
	return "", false
}

// clientMessage is what clients send: an auth handshake or a
// subscription to a set of nodes.
type clientMessage struct {
	Type  string   `json:"type"`
	Token string   `json:"token,omitempty"`
	Nodes []string `json:"nodes,omitempty"`
}
