// Command quickroom is a terminal client for anonymous chat rooms.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/christopherjohns/quickroom/internal/binding"
	"github.com/christopherjohns/quickroom/internal/config"
	"github.com/christopherjohns/quickroom/internal/directory"
	"github.com/christopherjohns/quickroom/internal/session"
	"github.com/christopherjohns/quickroom/internal/terminal"
)

// globalFlags are the root command's persistent flags.
type globalFlags struct {
	server     string
	configPath string
	reconnect  bool
	maxRetries int
	logLevel   string
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "quickroom",
		Short:         "Anonymous real-time chat rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", "", "directory and relay base URL (default http://localhost:8000)")
	pf.StringVar(&g.configPath, "config", "", "YAML config file")
	pf.BoolVar(&g.reconnect, "reconnect", false, "reconnect automatically after the connection drops")
	pf.IntVar(&g.maxRetries, "reconnect-max-attempts", 0, "give up reconnecting after this many failed attempts (0 = never)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(createCmd(&g), joinCmd(&g))
	return root
}

func createCmd(g *globalFlags) *cobra.Command {
	var nickname string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room and join it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, nickname)
			if err != nil {
				return err
			}
			dir := directory.NewClient(cfg.DirectoryURL())
			code, err := dir.CreateRoom(cmd.Context())
			if err != nil {
				return fmt.Errorf("create room: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Room created: %s (share this code)\n", code)
			return joinAndChat(cmd, cfg, dir, code)
		},
	}
	cmd.Flags().StringVarP(&nickname, "nickname", "n", "", "nickname shown to others")
	return cmd
}

func joinCmd(g *globalFlags) *cobra.Command {
	var nickname string
	cmd := &cobra.Command{
		Use:   "join [room-code]",
		Short: "Join an existing room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, nickname)
			if err != nil {
				return err
			}
			return joinAndChat(cmd, cfg, directory.NewClient(cfg.DirectoryURL()), args[0])
		},
	}
	cmd.Flags().StringVarP(&nickname, "nickname", "n", "", "nickname shown to others")
	return cmd
}

// loadConfig applies env, then the config file, then flags that were set.
func loadConfig(cmd *cobra.Command, g *globalFlags, nickname string) (config.Client, error) {
	cfg, err := config.LoadClient(g.configPath)
	if err != nil {
		return config.Client{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server = g.server
	}
	if flags.Changed("reconnect") {
		cfg.Reconnect = g.reconnect
	}
	if flags.Changed("reconnect-max-attempts") {
		cfg.ReconnectMaxAttempts = g.maxRetries
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if flags.Changed("nickname") {
		cfg.Nickname = nickname
	}
	if cfg.Nickname == "" {
		return config.Client{}, fmt.Errorf("a nickname is required (--nickname or QUICKROOM_NICKNAME)")
	}
	return cfg, nil
}

func joinAndChat(cmd *cobra.Command, cfg config.Client, dir *directory.Client, code string) error {
	logger, err := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	endpoint, err := cfg.WebSocketEndpoint()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := session.NewIdentity(code, cfg.Nickname)
	if err != nil {
		return err
	}
	if err := dir.JoinRoom(ctx, id.RoomCode, id.Nickname); err != nil {
		return fmt.Errorf("join room %s: %w", id.RoomCode, err)
	}

	ch := session.New(endpoint,
		session.WithLogger(logger),
		session.WithDialTimeout(cfg.DialTimeout),
		session.WithStateHook(func(s session.State) {
			logger.Debug("session state", slog.String("state", s.String()))
		}),
	)
	defer ch.Close()

	composer := binding.NewComposer(ch, binding.WithTypingIdle(cfg.TypingIdle))
	var opts []terminal.Option
	if cfg.Reconnect {
		opts = append(opts, terminal.WithReconnector(
			binding.NewReconnector(ch, composer.Active,
				binding.WithMaxAttempts(cfg.ReconnectMaxAttempts),
				binding.WithReconnectLogger(logger),
			),
		))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Joining %s as %s\n", id.RoomCode, id.Nickname)
	logger.Debug("starting session",
		slog.String("endpoint", endpoint),
		slog.Bool("reconnect", cfg.Reconnect),
		slog.Int("reconnect_max_attempts", cfg.ReconnectMaxAttempts),
	)
	return terminal.New(ch, composer, cmd.InOrStdin(), cmd.OutOrStdout(), opts...).Run(ctx, id.RoomCode, id.Nickname)
}
