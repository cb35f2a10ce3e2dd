package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatsync/internal/proto"
)

// Emitter publishes named events on the event channel. Implemented by
// channel.Channel; tests substitute fakes.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// UpdateKind tags what changed in an Update.
type UpdateKind int

const (
	// UpdateMessage reports a message appended to some thread.
	UpdateMessage UpdateKind = iota
	// UpdateRoster reports a replaced membership set for the active room.
	UpdateRoster
)

// Update notifies the presentation layer of a state change. It carries copies
// only; renderers never see live session state.
type Update struct {
	Kind    UpdateKind
	Key     ThreadKey
	Message Message
	Roster  []string
}

// View is a read-only projection of what the presentation layer renders.
type View struct {
	Focus      ThreadKey
	ActiveRoom string
	Messages   []Message
	Users      []string
}

// Session owns the conversation threads, the membership set, and the focus
// pointer for one logged-in identity, and reconciles them against the event
// channel. All state lives behind one mutex: user intents and inbound events
// are serialized, never concurrent.
type Session struct {
	mu         sync.Mutex
	identity   string
	rooms      map[string]struct{}
	roomOrder  []string
	activeRoom string
	store      *Store
	roster     *Roster
	emitter    Emitter
	updates    chan Update
	log        *zerolog.Logger
}

// New builds a session for identity over the given emitter. rooms is the
// fixed enumerable room set; defaultRoom receives the initial focus.
func New(identity string, rooms []string, defaultRoom string, echoWindow time.Duration, em Emitter, logger *zerolog.Logger) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	roomSet := make(map[string]struct{}, len(rooms))
	order := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if _, dup := roomSet[r]; dup || r == "" {
			continue
		}
		roomSet[r] = struct{}{}
		order = append(order, r)
	}
	if _, ok := roomSet[defaultRoom]; !ok {
		return nil, fmt.Errorf("default room %q not in room set", defaultRoom)
	}

	st := NewStore(identity, echoWindow)
	st.SetFocus(RoomKey(defaultRoom))

	return &Session{
		identity:   identity,
		rooms:      roomSet,
		roomOrder:  order,
		activeRoom: defaultRoom,
		store:      st,
		roster:     NewRoster(),
		emitter:    em,
		updates:    make(chan Update, 64),
		log:        logger,
	}, nil
}

// Identity returns the local username.
func (s *Session) Identity() string {
	return s.identity
}

// Rooms returns the configured room set in declaration order.
func (s *Session) Rooms() []string {
	out := make([]string, len(s.roomOrder))
	copy(out, s.roomOrder)
	return out
}

// ActiveRoom returns the room the session currently belongs to, independent
// of whether a DM thread holds the focus.
func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// Updates delivers state-change notifications for rendering. Slow consumers
// miss notifications, never state: Snapshot always reflects everything.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Join announces the session's presence in the active room. Called once
// after login and again after every reconnect so the relay can rebuild its
// membership bookkeeping and push a fresh roster.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	room := s.activeRoom
	s.mu.Unlock()

	return s.emitJoin(ctx, room)
}

func (s *Session) emitJoin(ctx context.Context, room string) error {
	err := s.emitter.Emit(ctx, proto.EventJoinRoom, proto.JoinRoomData{
		Room:     room,
		Username: s.identity,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("room", room).Msg("join emission failed")
		return &DeliveryWarning{Err: err}
	}
	return nil
}

// SendRoomMessage appends body to the room's thread optimistically, then
// emits exactly one send_message event. An emission failure comes back as a
// *DeliveryWarning; the local copy is kept either way.
func (s *Session) SendRoomMessage(ctx context.Context, room, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}
	if _, ok := s.rooms[room]; !ok {
		return ErrUnknownRoom
	}

	msg := Message{
		ID:     uuid.NewString(),
		Author: s.identity,
		Body:   body,
		SentAt: time.Now(),
		Room:   room,
	}

	key := RoomKey(room)
	s.mu.Lock()
	s.store.AppendLocal(key, msg)
	s.mu.Unlock()
	s.notify(Update{Kind: UpdateMessage, Key: key, Message: msg})

	err := s.emitter.Emit(ctx, proto.EventSendMessage, proto.SendMessageData{
		Room:      room,
		Author:    s.identity,
		Message:   body,
		Timestamp: proto.FormatTimestamp(msg.SentAt),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("room", room).Msg("message delivery uncertain")
		return &DeliveryWarning{Err: err}
	}
	return nil
}

// SendDirectMessage appends body to the DM thread with peer optimistically,
// then emits exactly one send_private_message event.
func (s *Session) SendDirectMessage(ctx context.Context, peer, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}
	if peer == "" {
		return ErrNoPeer
	}
	if peer == s.identity {
		return ErrSelfDirect
	}

	msg := Message{
		ID:     uuid.NewString(),
		Author: s.identity,
		Body:   body,
		SentAt: time.Now(),
	}

	key := DMKey(peer)
	s.mu.Lock()
	s.store.AppendLocal(key, msg)
	s.mu.Unlock()
	s.notify(Update{Kind: UpdateMessage, Key: key, Message: msg})

	err := s.emitter.Emit(ctx, proto.EventSendPrivateMessage, proto.SendPrivateMessageData{
		FromUsername: s.identity,
		ToUsername:   peer,
		Message:      body,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("peer", peer).Msg("message delivery uncertain")
		return &DeliveryWarning{Err: err}
	}
	return nil
}

// SwitchRoom moves the session to another room: focus follows, a join_room
// event tells the relay to relocate the client, and no thread is cleared.
// Messages buffered for the previous room stay readable on return.
func (s *Session) SwitchRoom(ctx context.Context, room string) error {
	if _, ok := s.rooms[room]; !ok {
		return ErrUnknownRoom
	}

	s.mu.Lock()
	s.activeRoom = room
	s.store.SetFocus(RoomKey(room))
	s.mu.Unlock()

	return s.emitJoin(ctx, room)
}

// SwitchToDirect focuses the DM thread with peer. Pure focus change: no
// channel traffic, no thread mutation. The session stays joined to its
// active room and keeps receiving its broadcasts.
func (s *Session) SwitchToDirect(peer string) error {
	if peer == "" {
		return ErrNoPeer
	}
	if peer == s.identity {
		return ErrSelfDirect
	}

	s.mu.Lock()
	s.store.SetFocus(DMKey(peer))
	s.mu.Unlock()
	return nil
}

// SwitchToRoom drops a DM focus back to the active room's thread.
func (s *Session) SwitchToRoom() {
	s.mu.Lock()
	s.store.SetFocus(RoomKey(s.activeRoom))
	s.mu.Unlock()
}

// HandleEvent applies one inbound channel event. Malformed and irrelevant
// events are dropped with a log line; nothing here can fail the session.
func (s *Session) HandleEvent(env proto.Envelope) {
	switch env.Event {
	case proto.EventReceiveMessage:
		d, err := proto.DecodeReceiveMessage(env.Data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping inbound event")
			return
		}
		key := RoomKey(d.Room)
		msg := Message{
			Author: d.Author,
			Body:   d.Message,
			SentAt: proto.ParseTimestamp(d.Timestamp),
			Room:   d.Room,
		}

		s.mu.Lock()
		confirmed, appended := s.store.ApplyRoomMessage(d.Room, d.Author, d.Message, msg.SentAt)
		s.mu.Unlock()

		if !appended {
			s.log.Debug().Str("thread", key.String()).Str("id", confirmed).Msg("own echo confirmed")
			return
		}
		s.notify(Update{Kind: UpdateMessage, Key: key, Message: msg})

	case proto.EventReceivePrivateMessage:
		d, err := proto.DecodeReceivePrivateMessage(env.Data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping inbound event")
			return
		}
		msg := Message{
			Author: d.Author,
			Body:   d.Message,
			SentAt: proto.ParseTimestamp(d.Timestamp),
		}

		s.mu.Lock()
		confirmed, appended := s.store.ApplyPrivateMessage(d.Author, d.ToUsername, d.Message, msg.SentAt)
		s.mu.Unlock()

		if !appended {
			if confirmed != "" {
				s.log.Debug().Str("thread", DMKey(d.ToUsername).String()).Str("id", confirmed).Msg("own echo confirmed")
			}
			return
		}
		key := DMKey(d.Author)
		if d.Author == s.identity {
			key = DMKey(d.ToUsername)
		}
		s.notify(Update{Kind: UpdateMessage, Key: key, Message: msg})

	case proto.EventRoomUsers:
		users, err := proto.DecodeRoomUsers(env.Data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping inbound event")
			return
		}

		s.mu.Lock()
		s.roster.Replace(users)
		snapshot := s.roster.Users()
		s.mu.Unlock()

		s.notify(Update{Kind: UpdateRoster, Roster: snapshot})

	default:
		s.log.Debug().Str("event", env.Event).Msg("ignoring unknown event")
	}
}

// Run consumes inbound events until ctx is done or the channel closes. A
// reconnect signal re-announces the active room so the relay pushes a fresh
// roster; threads and membership survive the disconnect untouched.
func (s *Session) Run(ctx context.Context, events <-chan proto.Envelope, reconnected <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			s.HandleEvent(env)
		case _, ok := <-reconnected:
			if !ok {
				reconnected = nil
				continue
			}
			if err := s.Join(ctx); err != nil {
				s.log.Warn().Err(err).Msg("re-join after reconnect failed")
			}
		}
	}
}

// Snapshot returns a read-only projection of the focused thread and the
// active room's roster.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	focus := s.store.Focus()
	return View{
		Focus:      focus,
		ActiveRoom: s.activeRoom,
		Messages:   s.store.Thread(focus),
		Users:      s.roster.Users(),
	}
}

// Thread returns a copy of one thread's messages.
func (s *Session) Thread(key ThreadKey) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Thread(key)
}

// Roster returns the current membership of the active room.
func (s *Session) Roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Users()
}

// InRoster reports whether name is currently in the active room.
func (s *Session) InRoster(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Contains(name)
}

func (s *Session) notify(u Update) {
	select {
	case s.updates <- u:
	default:
		// Drop if the renderer is slow.
	}
}
