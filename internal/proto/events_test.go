package proto

import (
	"errors"
	"testing"
	"time"
)

func TestNewEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventSendMessage, SendMessageData{
		Room: "general", Author: "alice", Message: "hi", Timestamp: "2026-01-02T15:04:05Z",
	})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.Event != EventSendMessage {
		t.Fatalf("event = %q, want %q", env.Event, EventSendMessage)
	}

	d, err := DecodeReceiveMessage(env.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Room != "general" || d.Author != "alice" || d.Message != "hi" {
		t.Fatalf("unexpected payload: %+v", d)
	}
}

func TestDecodeReceiveMessageMissingFields(t *testing.T) {
	cases := map[string]string{
		"missing room":    `{"author":"alice","message":"hi"}`,
		"missing author":  `{"room":"general","message":"hi"}`,
		"missing message": `{"room":"general","author":"alice"}`,
		"not json":        `nope`,
	}
	for name, raw := range cases {
		_, err := DecodeReceiveMessage([]byte(raw))
		var malformed *MalformedEventError
		if !errors.As(err, &malformed) {
			t.Fatalf("%s: expected MalformedEventError, got %v", name, err)
		}
	}
}

func TestDecodeReceivePrivateMessageMissingFields(t *testing.T) {
	if _, err := DecodeReceivePrivateMessage([]byte(`{"author":"alice","message":"hi"}`)); err == nil {
		t.Fatalf("expected error for missing toUsername")
	}

	d, err := DecodeReceivePrivateMessage([]byte(`{"author":"alice","toUsername":"bob","message":"hi"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Author != "alice" || d.ToUsername != "bob" {
		t.Fatalf("unexpected payload: %+v", d)
	}
}

func TestDecodeRoomUsers(t *testing.T) {
	users, err := DecodeRoomUsers([]byte(`["alice","bob"]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %v, want 2 entries", users)
	}

	if _, err := DecodeRoomUsers([]byte(`{"users":[]}`)); err == nil {
		t.Fatalf("expected error for non-array roster")
	}
}

func TestParseTimestampLenient(t *testing.T) {
	ts := ParseTimestamp("2026-01-02T15:04:05.123Z")
	if ts.IsZero() {
		t.Fatalf("valid RFC3339 timestamp not parsed")
	}
	if !ParseTimestamp("yesterday-ish").IsZero() {
		t.Fatalf("garbage timestamp parsed to non-zero time")
	}
	if !ParseTimestamp("").IsZero() {
		t.Fatalf("empty timestamp parsed to non-zero time")
	}
}

func TestFormatTimestampIsRFC3339(t *testing.T) {
	in := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	got := ParseTimestamp(FormatTimestamp(in))
	if !got.Equal(in) {
		t.Fatalf("round-trip mismatch: %v != %v", got, in)
	}
}
