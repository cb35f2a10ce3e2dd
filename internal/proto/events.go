package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event names are the wire contract shared with other clients and the relay
// server. Changing any of them breaks interoperability with unchanged peers.
const (
	EventJoinRoom              = "join_room"
	EventSendMessage           = "send_message"
	EventSendPrivateMessage    = "send_private_message"
	EventReceiveMessage        = "receive_message"
	EventReceivePrivateMessage = "receive_private_message"
	EventRoomUsers             = "room_users"
)

// Envelope wraps every frame on the event channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into an envelope for the given event name.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// JoinRoomData announces the client's presence in a room.
type JoinRoomData struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// SendMessageData is an outbound room broadcast.
type SendMessageData struct {
	Room      string `json:"room"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// SendPrivateMessageData is an outbound direct message.
type SendPrivateMessageData struct {
	FromUsername string `json:"fromUsername"`
	ToUsername   string `json:"toUsername"`
	Message      string `json:"message"`
}

// ReceiveMessageData is an inbound room broadcast.
type ReceiveMessageData struct {
	Room      string `json:"room"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ReceivePrivateMessageData is an inbound direct message. The relay delivers
// it to every room member; receivers must filter by the two named parties.
type ReceivePrivateMessageData struct {
	Author     string `json:"author"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
	ToUsername string `json:"toUsername"`
}

// MalformedEventError reports an inbound event that cannot be used. The
// session drops such events instead of failing.
type MalformedEventError struct {
	Event  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Event, e.Reason)
}

func malformed(event, reason string) *MalformedEventError {
	return &MalformedEventError{Event: event, Reason: reason}
}

// DecodeReceiveMessage validates and decodes a receive_message payload.
func DecodeReceiveMessage(data json.RawMessage) (ReceiveMessageData, error) {
	var d ReceiveMessageData
	if err := json.Unmarshal(data, &d); err != nil {
		return d, malformed(EventReceiveMessage, err.Error())
	}
	if d.Room == "" {
		return d, malformed(EventReceiveMessage, "missing room")
	}
	if d.Author == "" {
		return d, malformed(EventReceiveMessage, "missing author")
	}
	if d.Message == "" {
		return d, malformed(EventReceiveMessage, "missing message")
	}
	return d, nil
}

// DecodeReceivePrivateMessage validates and decodes a receive_private_message payload.
func DecodeReceivePrivateMessage(data json.RawMessage) (ReceivePrivateMessageData, error) {
	var d ReceivePrivateMessageData
	if err := json.Unmarshal(data, &d); err != nil {
		return d, malformed(EventReceivePrivateMessage, err.Error())
	}
	if d.Author == "" {
		return d, malformed(EventReceivePrivateMessage, "missing author")
	}
	if d.ToUsername == "" {
		return d, malformed(EventReceivePrivateMessage, "missing toUsername")
	}
	if d.Message == "" {
		return d, malformed(EventReceivePrivateMessage, "missing message")
	}
	return d, nil
}

// DecodeRoomUsers decodes a room_users roster payload.
func DecodeRoomUsers(data json.RawMessage) ([]string, error) {
	var users []string
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, malformed(EventRoomUsers, err.Error())
	}
	return users, nil
}

// FormatTimestamp renders a timestamp the way peers expect it on the wire.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp is lenient: peers generate timestamps locally and some send
// none at all, so failures fall back to the zero time rather than dropping
// the event. Ordering never depends on these values.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
