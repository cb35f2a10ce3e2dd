package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"chatsync/internal/channel"
	"chatsync/internal/config"
	"chatsync/internal/gateway"
	"chatsync/internal/session"
)

// Credentials carries what the user typed at the login prompt.
type Credentials struct {
	Username string
	Password string
	Register bool
}

// App wires the identity gateway, the event channel, and the session
// together for one login.
type App struct {
	cfg     *config.Config
	log     *zerolog.Logger
	gateway *gateway.Client
	channel *channel.Channel
	session *session.Session
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) *App {
	return &App{
		cfg:     cfg,
		log:     logger,
		gateway: gateway.New(cfg.GatewayURL, cfg.DialTimeout, logger),
	}
}

// Login authenticates against the gateway, connects the event channel, and
// announces presence in the default room. On success the session is ready
// and Run may be called.
func (a *App) Login(ctx context.Context, creds Credentials) error {
	if creds.Register {
		msg, err := a.gateway.Register(ctx, creds.Username, creds.Password)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		a.log.Info().Str("message", msg).Msg("registration accepted")
	}

	tok, err := a.gateway.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if !tok.ExpiresAt.IsZero() {
		a.log.Debug().Time("expires_at", tok.ExpiresAt).Msg("session token parsed")
	}

	ch, err := channel.Dial(ctx, a.cfg.ChannelURL, channel.Options{
		DialTimeout: a.cfg.DialTimeout,
		MinBackoff:  a.cfg.MinBackoff,
		MaxBackoff:  a.cfg.MaxBackoff,
	}, a.log)
	if err != nil {
		return fmt.Errorf("connect channel: %w", err)
	}

	sess, err := session.New(tok.Username, a.cfg.Rooms, a.cfg.DefaultRoom, a.cfg.EchoWindow, ch, a.log)
	if err != nil {
		ch.Close()
		return fmt.Errorf("create session: %w", err)
	}

	if err := sess.Join(ctx); err != nil {
		var warn *session.DeliveryWarning
		if !errors.As(err, &warn) {
			ch.Close()
			return fmt.Errorf("join room: %w", err)
		}
		a.log.Warn().Err(err).Msg("initial join uncertain, will retry on reconnect")
	}

	a.channel = ch
	a.session = sess
	a.log.Info().Str("username", tok.Username).Str("room", a.cfg.DefaultRoom).Msg("session started")
	return nil
}

// Session exposes the live session for the presentation layer. Nil before a
// successful Login.
func (a *App) Session() *session.Session {
	return a.session
}

// Run pumps channel events into the session until context cancellation. All
// in-memory state is discarded when Run returns; that is the logout.
func (a *App) Run(ctx context.Context) error {
	if a.session == nil {
		return fmt.Errorf("not logged in")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.channel.Run(ctx)
	}()

	a.session.Run(ctx, a.channel.Events(), a.channel.Reconnected())

	cancel()
	if err := a.channel.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close channel")
	} else {
		a.log.Info().Msg("channel closed")
	}
	<-done
	return nil
}
