package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MisTAiM/movienights/internal/config"
	"github.com/MisTAiM/movienights/internal/content"
	"github.com/MisTAiM/movienights/internal/room"
	"github.com/MisTAiM/movienights/internal/transport"
	"github.com/MisTAiM/movienights/pkg/logger"
)

// flag name -> config key
var boundFlags = map[string]string{
	"transport": config.KeyTransport,
	"relay-url": config.KeyRelayURL,
	"redis-url": config.KeyRedisURL,
	"name":      config.KeyDisplayName,
	"log-level": config.KeyLogLevel,
}

type app struct {
	configPath string

	cfg       *config.ClientConfig
	log       *slog.Logger
	transport transport.Transport
}

// NewRootCmd builds the watchparty command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:               "watchparty",
		Short:             "Watch videos together, in sync",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $HOME/.watchparty.yaml)")
	flags.String("transport", "", "memory, redis or relay")
	flags.String("relay-url", "", "relay base url")
	flags.String("redis-url", "", "redis url, e.g. redis://localhost:6379/0")
	flags.String("name", "", "display name shown to others")
	flags.String("log-level", "", "debug, info, warn or error")

	root.AddCommand(a.createCmd(), a.joinCmd(), a.titlesCmd())

	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	cm, err := config.NewClientConfigManager(a.configPath)
	if err != nil {
		return err
	}
	for name, key := range boundFlags {
		if err := cm.Viper().BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}

	if _, err := cm.EnsureParticipantID(); err != nil {
		return err
	}
	c, err := cm.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", cm.Path(), err)
	}

	log, err := logger.New(logger.Config{
		Env:    c.Env,
		Level:  c.LogLevel,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	a.cfg = c
	a.log = log.Component("cli")
	return nil
}

func (a *app) close() error {
	if a.transport == nil {
		return nil
	}
	return a.transport.Close()
}

func (a *app) openTransport(ctx context.Context) (transport.Transport, error) {
	c := a.cfg
	switch c.Transport {
	case config.TransportMemory:
		a.transport = transport.NewMemoryBus(a.log)
	case config.TransportRedis:
		t, err := transport.NewRedis(ctx, c.RedisURL, c.SnapshotTTL, a.log)
		if err != nil {
			return nil, err
		}
		a.transport = t
	case config.TransportRelay:
		t, err := transport.NewRelay(c.RelayURL, c.ParticipantID, a.log)
		if err != nil {
			return nil, err
		}
		a.transport = t
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
	return a.transport, nil
}

// titles returns the catalog, which only the relay serves
func (a *app) titles() content.Source {
	if a.cfg.Transport != config.TransportRelay {
		return nil
	}
	return content.NewHTTPSource(a.cfg.RelayURL, nil)
}

func (a *app) newSession(ctx context.Context) (*room.Session, error) {
	t, err := a.openTransport(ctx)
	if err != nil {
		return nil, err
	}

	s := a.cfg.Session
	return room.NewSession(t, a.cfg.ParticipantID, room.Config{
		HeartbeatPeriod:  s.HeartbeatPeriod,
		TimeoutMultiple:  s.TimeoutMultiple,
		DiscoveryTimeout: s.DiscoveryTimeout,
		PublishTimeout:   s.PublishTimeout,
	}, a.log), nil
}

func (a *app) displayName() (string, error) {
	name := strings.TrimSpace(a.cfg.DisplayName)
	if name == "" {
		return "", errors.New("a display name is required, pass --name or set display_name in the config")
	}
	return name, nil
}

func (a *app) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a room and host it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.displayName()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			session, err := a.newSession(ctx)
			if err != nil {
				return err
			}

			code, err := session.CreateRoom(ctx, name)
			if code == "" {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "! room created but not announced yet: %v\n", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "room %s is open, share the code to invite others\n", code)

			return NewREPL(session, a.titles(), cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
		},
	}
}

func (a *app) joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join CODE",
		Short: "Join a room by its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.displayName()
			if err != nil {
				return err
			}
			code := room.NormalizeCode(args[0])
			if !room.ValidCode(code) {
				return fmt.Errorf("%q is not a room code", args[0])
			}
			ctx := cmd.Context()

			session, err := a.newSession(ctx)
			if err != nil {
				return err
			}

			r, err := session.JoinRoom(ctx, code, name)
			if r == nil {
				if errors.Is(err, room.ErrRoomNotFound) {
					return fmt.Errorf("no open room with code %s", code)
				}
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "! joined but not announced yet: %v\n", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "joined room %s with %d watching\n", code, len(r.ActiveParticipants()))

			return NewREPL(session, a.titles(), cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
		},
	}
}

func (a *app) titlesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "titles",
		Short: "List the relay's title catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := a.titles()
			if src == nil {
				return errors.New("the title catalog is served by the relay, use --transport relay")
			}

			titles, err := src.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range titles {
				fmt.Fprintf(out, "%-20s %s\n", t.ID, t.Title)
			}
			return nil
		},
	}
}
