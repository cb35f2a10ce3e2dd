package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/proto"
)

type emission struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu      sync.Mutex
	emitted []emission
	fail    bool
}

func (f *fakeEmitter) Emit(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("wire down")
	}
	f.emitted = append(f.emitted, emission{event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) all() []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emission, len(f.emitted))
	copy(out, f.emitted)
	return out
}

func (f *fakeEmitter) last(t *testing.T) emission {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.emitted) == 0 {
		t.Fatalf("no emissions recorded")
	}
	return f.emitted[len(f.emitted)-1]
}

func newTestSession(t *testing.T, identity string) (*Session, *fakeEmitter) {
	t.Helper()

	em := &fakeEmitter{}
	logger := zerolog.Nop()
	sess, err := New(identity, []string{"general", "dev"}, "general", 5*time.Second, em, &logger)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess, em
}

func mustEnvelope(t *testing.T, event string, payload any) proto.Envelope {
	t.Helper()
	env, err := proto.NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func TestSendRoomMessageOptimisticThenEchoOnce(t *testing.T) {
	sess, em := newTestSession(t, "alice")
	ctx := context.Background()

	if err := sess.SendRoomMessage(ctx, "general", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Local append is visible before any channel traffic comes back.
	if got := len(sess.Thread(RoomKey("general"))); got != 1 {
		t.Fatalf("thread length before echo = %d, want 1", got)
	}

	e := em.last(t)
	if e.event != proto.EventSendMessage {
		t.Fatalf("emitted event = %q, want %q", e.event, proto.EventSendMessage)
	}
	data, ok := e.payload.(proto.SendMessageData)
	if !ok {
		t.Fatalf("unexpected payload type %T", e.payload)
	}
	if data.Room != "general" || data.Author != "alice" || data.Message != "hi" {
		t.Fatalf("unexpected payload: %+v", data)
	}
	if data.Timestamp == "" {
		t.Fatalf("outbound message missing timestamp")
	}

	sess.HandleEvent(mustEnvelope(t, proto.EventReceiveMessage, proto.ReceiveMessageData{
		Room: "general", Author: "alice", Message: "hi",
		Timestamp: proto.FormatTimestamp(time.Now()),
	}))

	if got := len(sess.Thread(RoomKey("general"))); got != 1 {
		t.Fatalf("thread length after echo = %d, want 1", got)
	}
}

func TestSendDirectMessageOptimisticThenEchoOnce(t *testing.T) {
	sess, em := newTestSession(t, "alice")
	ctx := context.Background()

	if err := sess.SendDirectMessage(ctx, "bob", "secret"); err != nil {
		t.Fatalf("send: %v", err)
	}

	e := em.last(t)
	if e.event != proto.EventSendPrivateMessage {
		t.Fatalf("emitted event = %q, want %q", e.event, proto.EventSendPrivateMessage)
	}
	data := e.payload.(proto.SendPrivateMessageData)
	if data.FromUsername != "alice" || data.ToUsername != "bob" || data.Message != "secret" {
		t.Fatalf("unexpected payload: %+v", data)
	}

	sess.HandleEvent(mustEnvelope(t, proto.EventReceivePrivateMessage, proto.ReceivePrivateMessageData{
		Author: "alice", ToUsername: "bob", Message: "secret",
	}))

	if got := len(sess.Thread(DMKey("bob"))); got != 1 {
		t.Fatalf("DM thread length after echo = %d, want 1", got)
	}
}

func TestSendValidation(t *testing.T) {
	sess, em := newTestSession(t, "alice")
	ctx := context.Background()

	if err := sess.SendRoomMessage(ctx, "general", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if err := sess.SendRoomMessage(ctx, "ghost", "hi"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
	if err := sess.SendDirectMessage(ctx, "alice", "hi"); !errors.Is(err, ErrSelfDirect) {
		t.Fatalf("expected ErrSelfDirect, got %v", err)
	}
	if err := sess.SendDirectMessage(ctx, "", "hi"); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer, got %v", err)
	}

	if got := em.all(); len(got) != 0 {
		t.Fatalf("rejected sends emitted %d events", len(got))
	}
	if got := len(sess.Thread(RoomKey("general"))); got != 0 {
		t.Fatalf("rejected sends appended %d messages", got)
	}
}

func TestSendKeepsLocalCopyOnEmitFailure(t *testing.T) {
	sess, em := newTestSession(t, "alice")
	em.fail = true

	err := sess.SendRoomMessage(context.Background(), "general", "hi")
	var warn *DeliveryWarning
	if !errors.As(err, &warn) {
		t.Fatalf("expected DeliveryWarning, got %v", err)
	}

	// No rollback: the sender's own view must not desynchronize.
	if got := len(sess.Thread(RoomKey("general"))); got != 1 {
		t.Fatalf("thread length after failed emit = %d, want 1", got)
	}
}

func TestInboundForNonActiveRoomBuffered(t *testing.T) {
	sess, _ := newTestSession(t, "alice")

	sess.HandleEvent(mustEnvelope(t, proto.EventReceiveMessage, proto.ReceiveMessageData{
		Room: "dev", Author: "bob", Message: "yo",
	}))

	if got := len(sess.Thread(RoomKey("dev"))); got != 1 {
		t.Fatalf("dev thread length = %d, want 1", got)
	}
	if got := len(sess.Thread(RoomKey("general"))); got != 0 {
		t.Fatalf("general thread length = %d, want 0", got)
	}

	view := sess.Snapshot()
	if view.Focus != RoomKey("general") || len(view.Messages) != 0 {
		t.Fatalf("rendered view changed: %+v", view)
	}
}

func TestRelayedDMBetweenOthersStaysInvisible(t *testing.T) {
	sess, _ := newTestSession(t, "carol")

	sess.HandleEvent(mustEnvelope(t, proto.EventReceivePrivateMessage, proto.ReceivePrivateMessageData{
		Author: "alice", ToUsername: "bob", Message: "secret",
	}))

	if got := len(sess.Thread(DMKey("alice"))); got != 0 {
		t.Fatalf("carol materialized a DM she is not party to")
	}
	if got := len(sess.Thread(DMKey("bob"))); got != 0 {
		t.Fatalf("carol materialized a DM she is not party to")
	}
}

func TestRoomUsersReplacesRoster(t *testing.T) {
	sess, _ := newTestSession(t, "alice")

	sess.HandleEvent(mustEnvelope(t, proto.EventRoomUsers, []string{"alice", "bob"}))
	sess.HandleEvent(mustEnvelope(t, proto.EventRoomUsers, []string{"alice"}))

	got := sess.Roster()
	if len(got) != 1 || got[0] != "alice" {
		t.Fatalf("roster = %v, want [alice]", got)
	}
}

func TestSwitchRoomEmitsJoinAndPreservesThreads(t *testing.T) {
	sess, em := newTestSession(t, "alice")
	ctx := context.Background()

	sess.HandleEvent(mustEnvelope(t, proto.EventReceiveMessage, proto.ReceiveMessageData{
		Room: "general", Author: "bob", Message: "before switch",
	}))

	if err := sess.SwitchRoom(ctx, "dev"); err != nil {
		t.Fatalf("switch: %v", err)
	}

	e := em.last(t)
	if e.event != proto.EventJoinRoom {
		t.Fatalf("emitted event = %q, want %q", e.event, proto.EventJoinRoom)
	}
	join := e.payload.(proto.JoinRoomData)
	if join.Room != "dev" || join.Username != "alice" {
		t.Fatalf("unexpected join payload: %+v", join)
	}
	if sess.ActiveRoom() != "dev" {
		t.Fatalf("active room = %q, want dev", sess.ActiveRoom())
	}
	if got := len(sess.Thread(RoomKey("general"))); got != 1 {
		t.Fatalf("previous room thread cleared on switch")
	}

	if err := sess.SwitchRoom(ctx, "ghost"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
}

func TestDirectFocusIsPureNavigation(t *testing.T) {
	sess, em := newTestSession(t, "alice")

	before := len(em.all())
	if err := sess.SwitchToDirect("bob"); err != nil {
		t.Fatalf("switch to direct: %v", err)
	}
	if got := sess.Snapshot().Focus; got != DMKey("bob") {
		t.Fatalf("focus = %v, want dm:bob", got)
	}

	sess.SwitchToRoom()
	if got := sess.Snapshot().Focus; got != RoomKey("general") {
		t.Fatalf("focus = %v, want room:general", got)
	}
	if len(em.all()) != before {
		t.Fatalf("focus navigation produced channel traffic")
	}

	if err := sess.SwitchToDirect("alice"); !errors.Is(err, ErrSelfDirect) {
		t.Fatalf("expected ErrSelfDirect, got %v", err)
	}
}

func TestMalformedEventsDroppedWithoutMutation(t *testing.T) {
	sess, _ := newTestSession(t, "alice")

	sess.HandleEvent(proto.Envelope{Event: proto.EventReceiveMessage, Data: []byte(`{"author":"bob"}`)})
	sess.HandleEvent(proto.Envelope{Event: proto.EventReceivePrivateMessage, Data: []byte(`not json`)})
	sess.HandleEvent(proto.Envelope{Event: proto.EventRoomUsers, Data: []byte(`{"nope":1}`)})
	sess.HandleEvent(proto.Envelope{Event: "mystery", Data: []byte(`{}`)})

	if got := len(sess.Thread(RoomKey("general"))); got != 0 {
		t.Fatalf("malformed events mutated a thread")
	}
	if got := sess.Roster(); len(got) != 0 {
		t.Fatalf("malformed roster event applied: %v", got)
	}
}

func TestRunRejoinsAfterReconnect(t *testing.T) {
	sess, em := newTestSession(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := make(chan proto.Envelope)
	reconnected := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx, events, reconnected)
	}()

	reconnected <- struct{}{}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, e := range em.all() {
			if e.event == proto.EventJoinRoom {
				join := e.payload.(proto.JoinRoomData)
				if join.Room != "general" || join.Username != "alice" {
					t.Fatalf("unexpected re-join payload: %+v", join)
				}
				cancel()
				<-done
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no join_room emitted after reconnect")
}

func TestInRosterTracksPresence(t *testing.T) {
	sess, _ := newTestSession(t, "alice")

	sess.HandleEvent(mustEnvelope(t, proto.EventRoomUsers, []string{"alice", "bob"}))

	if !sess.InRoster("bob") {
		t.Fatalf("bob missing from roster")
	}
	if sess.InRoster("carol") {
		t.Fatalf("carol reported present without a presence event")
	}
}

func TestUpdatesNotifyRenderer(t *testing.T) {
	sess, _ := newTestSession(t, "alice")

	sess.HandleEvent(mustEnvelope(t, proto.EventReceiveMessage, proto.ReceiveMessageData{
		Room: "general", Author: "bob", Message: "hi",
	}))

	select {
	case u := <-sess.Updates():
		if u.Kind != UpdateMessage || u.Key != RoomKey("general") || u.Message.Body != "hi" {
			t.Fatalf("unexpected update: %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update delivered")
	}
}
