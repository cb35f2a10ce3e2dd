package session

import "time"

// Store holds every conversation thread of the logged-in session plus the
// focus pointer the presentation layer renders. Threads are append-only in
// arrival order; timestamps are informational and never reorder anything.
//
// Store is not safe for concurrent use on its own. The owning Session
// serializes all access.
type Store struct {
	self    string
	threads map[ThreadKey][]Message
	focus   ThreadKey

	// pending tracks optimistic local appends awaiting their channel echo.
	pending []pendingEcho
	window  time.Duration
	now     func() time.Time
}

// pendingEcho marks one optimistic append, stamped with the originating
// message's id. The matching inbound echo, if it arrives before the
// deadline, is absorbed as a delivery confirmation for that id. The id never
// goes on the wire; echo matching is by (key, body) because unchanged peers
// would not round-trip an extra field.
type pendingEcho struct {
	id       string
	key      ThreadKey
	body     string
	deadline time.Time
}

// NewStore builds an empty store for the given local identity. window bounds
// how long an optimistic append suppresses its own echo.
func NewStore(self string, window time.Duration) *Store {
	return &Store{
		self:    self,
		threads: make(map[ThreadKey][]Message),
		window:  window,
		now:     time.Now,
	}
}

// Focus returns the thread key currently selected for display.
func (s *Store) Focus() ThreadKey {
	return s.focus
}

// SetFocus changes which thread is displayed. It never touches thread
// contents.
func (s *Store) SetFocus(key ThreadKey) {
	s.focus = key
}

// Thread returns a copy of the messages in the given thread, creating
// nothing. A missing thread reads as empty.
func (s *Store) Thread(key ThreadKey) []Message {
	msgs := s.threads[key]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Len returns the number of messages in a thread without copying.
func (s *Store) Len(key ThreadKey) int {
	return len(s.threads[key])
}

// AppendLocal appends an optimistic local send and records a pending echo so
// the same message coming back over the channel is treated as confirmation,
// not content. Each call arms exactly one echo slot; sending the same body
// twice arms two.
func (s *Store) AppendLocal(key ThreadKey, msg Message) {
	s.threads[key] = append(s.threads[key], msg)
	s.pending = append(s.pending, pendingEcho{
		id:       msg.ID,
		key:      key,
		body:     msg.Body,
		deadline: s.now().Add(s.window),
	})
}

// ApplyRoomMessage appends an inbound room broadcast to its room's thread,
// regardless of the current focus. The thread is created lazily if the room
// is not tracked yet. When the event was the echo of a local send it is
// absorbed instead of appended: appended is false and confirmed carries the
// originating message's id.
func (s *Store) ApplyRoomMessage(room, author, body string, ts time.Time) (confirmed string, appended bool) {
	key := RoomKey(room)
	if author == s.self {
		if id, ok := s.consumeEcho(key, body); ok {
			return id, false
		}
	}
	s.threads[key] = append(s.threads[key], Message{
		Author: author,
		Body:   body,
		SentAt: ts,
		Room:   room,
	})
	return "", true
}

// ApplyPrivateMessage materializes an inbound direct message when the local
// identity is one of the two parties, keyed by the other party. Events
// between unrelated users are ignored; the relay broadcasts them to the whole
// room and relying on receiver-side filtering is part of the wire contract.
// Echo absorption reports the originating id the same way ApplyRoomMessage
// does; an irrelevant event returns ("", false).
func (s *Store) ApplyPrivateMessage(from, to, body string, ts time.Time) (confirmed string, appended bool) {
	var peer string
	switch s.self {
	case from:
		peer = to
	case to:
		peer = from
	default:
		return "", false
	}

	key := DMKey(peer)
	if from == s.self {
		if id, ok := s.consumeEcho(key, body); ok {
			return id, false
		}
	}
	s.threads[key] = append(s.threads[key], Message{
		Author: from,
		Body:   body,
		SentAt: ts,
	})
	return "", true
}

// consumeEcho disarms the oldest live pending echo matching (key, body) and
// returns its message id. Expired entries are pruned as a side effect so a
// stale slot can never swallow a genuine later message.
func (s *Store) consumeEcho(key ThreadKey, body string) (string, bool) {
	now := s.now()
	live := s.pending[:0]
	for _, p := range s.pending {
		if now.After(p.deadline) {
			continue
		}
		live = append(live, p)
	}
	s.pending = live

	for i, p := range s.pending {
		if p.key == key && p.body == body {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return p.id, true
		}
	}
	return "", false
}
