package session

import "time"

// Message is the domain model for a single chat message. Room is empty for
// direct messages; the owning thread key carries the peer instead.
type Message struct {
	ID     string
	Author string
	Body   string
	SentAt time.Time
	Room   string
}

// ThreadKey identifies a conversation thread: either a room broadcast log or
// a two-party direct-message log. Exactly one field is set.
type ThreadKey struct {
	Room string
	Peer string
}

// RoomKey keys the broadcast thread for a room.
func RoomKey(room string) ThreadKey {
	return ThreadKey{Room: room}
}

// DMKey keys the direct-message thread with a peer.
func DMKey(peer string) ThreadKey {
	return ThreadKey{Peer: peer}
}

// IsDM reports whether the key addresses a direct-message thread.
func (k ThreadKey) IsDM() bool {
	return k.Peer != ""
}

func (k ThreadKey) String() string {
	if k.IsDM() {
		return "dm:" + k.Peer
	}
	return "room:" + k.Room
}
