package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chatsync/internal/app"
	"chatsync/internal/config"
	"chatsync/internal/log"
	"chatsync/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
		username   string
		password   string
		register   bool
	)

	cmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Terminal chat client synchronized with a shared event channel",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, overrides, app.Credentials{
				Username: username,
				Password: password,
				Register: register,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to config file")
	flags.StringVar(&overrides.GatewayURL, "gateway", "", "identity gateway base URL")
	flags.StringVar(&overrides.ChannelURL, "channel", "", "event channel websocket URL")
	flags.StringVar(&overrides.DefaultRoom, "room", "", "room to join on login")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&username, "user", "", "username")
	flags.StringVar(&password, "password", "", "password")
	flags.BoolVar(&register, "register", false, "register the account before logging in")
	cobra.CheckErr(cmd.MarkFlagRequired("user"))
	cobra.CheckErr(cmd.MarkFlagRequired("password"))

	return cmd
}

func run(baseCtx context.Context, configPath string, overrides config.Config, creds app.Credentials) error {
	logger := log.New(firstNonEmpty(overrides.LogLevel, "info"))

	cfg, _, err := config.Load(logger, configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(overrides)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger = log.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(baseCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	application := app.New(&cfg, logger)
	if err := application.Login(ctx, creds); err != nil {
		return err
	}
	sess := application.Session()

	fmt.Printf("Logged in as %s, room %s\n", sess.Identity(), sess.ActiveRoom())
	fmt.Println("Commands: /rooms, /room [name], /dm <user>, /users, /quit. Anything else is sent.")

	go printLoop(ctx, sess)
	go inputLoop(ctx, cancel, sess)

	return application.Run(ctx)
}

// printLoop renders session updates for the focused thread plus roster
// changes. It is a read-only projection; missing an update never loses state.
func printLoop(ctx context.Context, sess *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sess.Updates():
			if !ok {
				return
			}
			switch u.Kind {
			case session.UpdateMessage:
				if u.Key != sess.Snapshot().Focus {
					continue
				}
				if u.Key.IsDM() {
					fmt.Printf("(dm) %s: %s\n", u.Message.Author, u.Message.Body)
				} else {
					fmt.Printf("[%s] %s: %s\n", u.Key.Room, u.Message.Author, u.Message.Body)
				}
			case session.UpdateRoster:
				fmt.Printf("users in %s: %s\n", sess.ActiveRoom(), strings.Join(u.Roster, ", "))
			}
		}
	}
}

func inputLoop(ctx context.Context, cancel context.CancelFunc, sess *session.Session) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				cancel()
				return
			}
			if quit := handleLine(ctx, sess, strings.TrimSpace(line)); quit {
				cancel()
				return
			}
		}
	}
}

func handleLine(ctx context.Context, sess *session.Session, line string) bool {
	if line == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "/quit":
		return true
	case "/rooms":
		fmt.Printf("rooms: %s\n", strings.Join(sess.Rooms(), ", "))
	case "/room":
		if arg == "" {
			sess.SwitchToRoom()
			fmt.Printf("back to room %s\n", sess.ActiveRoom())
		} else if err = sess.SwitchRoom(ctx, arg); err == nil {
			fmt.Printf("joined room %s\n", arg)
			replay(sess)
		}
	case "/dm":
		if err = sess.SwitchToDirect(arg); err == nil {
			fmt.Printf("private conversation with %s\n", arg)
			if !sess.InRoster(arg) {
				fmt.Printf("note: %s is not in %s right now\n", arg, sess.ActiveRoom())
			}
			replay(sess)
		}
	case "/users":
		fmt.Printf("users in %s: %s\n", sess.ActiveRoom(), strings.Join(sess.Roster(), ", "))
	default:
		focus := sess.Snapshot().Focus
		if focus.IsDM() {
			err = sess.SendDirectMessage(ctx, focus.Peer, line)
		} else {
			err = sess.SendRoomMessage(ctx, focus.Room, line)
		}
	}

	if err != nil {
		fmt.Printf("! %v\n", err)
	}
	return false
}

// replay reprints the newly focused thread so switching back to a room shows
// what arrived while the user was elsewhere.
func replay(sess *session.Session) {
	view := sess.Snapshot()
	for _, m := range view.Messages {
		if view.Focus.IsDM() {
			fmt.Printf("(dm) %s: %s\n", m.Author, m.Body)
		} else {
			fmt.Printf("[%s] %s: %s\n", view.Focus.Room, m.Author, m.Body)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
