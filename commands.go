package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"wabot-gateway/config"
	"wabot-gateway/database"
	"wabot-gateway/internal/helper"
	"wabot-gateway/internal/manager"
	"wabot-gateway/internal/model"
	"wabot-gateway/internal/server"
	"wabot-gateway/internal/service"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wabot",
		Short:         "Run WhatsApp bot sessions, each behind its own control port",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newRunCmd(), newTokenCmd())
	return root
}

// runtimeDeps is everything a Manager needs beyond the session definitions.
type runtimeDeps struct {
	cfg    *config.Config
	log    zerolog.Logger
	issuer *service.TokenIssuer
	store  *model.SessionStore
	stream *service.StreamRelay
	close  []func()
}

func (d *runtimeDeps) Close() {
	for i := len(d.close) - 1; i >= 0; i-- {
		d.close[i]()
	}
}

func (d *runtimeDeps) security() server.Security {
	return server.Security{
		Issuer:             d.issuer,
		CORSAllowOrigins:   d.cfg.CORSAllowOrigins,
		RateLimitPerSecond: d.cfg.RateLimitPerSecond,
		RateLimitBurst:     d.cfg.RateLimitBurst,
		RateLimitWindow:    time.Duration(d.cfg.RateLimitWindowMinutes) * time.Minute,
	}
}

func (d *runtimeDeps) manager() *manager.Manager {
	return manager.New(manager.Options{
		Config:    d.cfg,
		NewClient: service.NewWhatsmeowFactory(d.cfg.DeviceOSName),
		Store:     d.store,
		Stream:    d.stream,
		Security:  d.security(),
		Media:     service.NewMediaFetcher(0, d.cfg.MediaMaxBytes),
		Log:       d.log,
	})
}

func loadRuntime(ctx context.Context) (*runtimeDeps, error) {
	cfg := config.Load()
	logger := helper.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	zlog.Logger = logger

	d := &runtimeDeps{
		cfg:    cfg,
		log:    logger,
		issuer: service.NewTokenIssuer(cfg.JWTSecret),
	}
	if !d.issuer.Enabled() {
		logger.Warn().Msg("JWT_SECRET is not set, control endpoints are unauthenticated")
	}

	if cfg.AppDatabaseURL != "" {
		db, dialect, err := database.OpenAppDB(cfg.AppDatabaseURL)
		if err != nil {
			return nil, err
		}
		d.close = append(d.close, func() { _ = db.Close() })

		d.store = model.NewSessionStore(db, dialect)
		if err := d.store.Migrate(ctx); err != nil {
			d.Close()
			return nil, err
		}
	}

	if cfg.RedisAddr != "" {
		stream, err := service.NewStreamRelay(ctx, cfg.RedisAddr, cfg.RedisStreamPrefix, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.stream = stream
		d.close = append(d.close, func() { _ = stream.Close() })
	}
	return d, nil
}

func waitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	return <-quit
}

func newServeCmd() *cobra.Command {
	var sessionsFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start every configured session and the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			if sessionsFile == "" {
				sessionsFile = d.cfg.SessionsFile
			}

			mgr := d.manager()
			if err := mgr.LoadStored(ctx); err != nil {
				return err
			}
			if sessionsFile != "" {
				defs, err := config.LoadSessionsFile(sessionsFile)
				if err != nil {
					return err
				}
				for _, sc := range defs {
					if _, err := mgr.Define(ctx, sc); err != nil {
						return errors.Wrapf(err, "define session %s", sc.ID)
					}
				}
			}

			views, err := mgr.Sessions(ctx)
			if err != nil {
				return err
			}
			for _, v := range views {
				if _, err := mgr.StartSession(ctx, v.SessionID); err != nil {
					d.log.Error().Err(err).Str("session_id", v.SessionID).Msg("could not start session")
				}
			}

			admin := server.NewAdminServer(d.cfg.AdminPort, mgr, d.security(), d.log)
			if err := admin.Start(); err != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.StopTimeout)
				defer cancel()
				mgr.StopAll(shutdownCtx)
				return err
			}
			running := mgr.List()
			for _, snap := range running {
				d.log.Info().Str("session_id", snap.SessionID).Stringer("status", snap.Status).Msg("session running")
			}
			d.log.Info().Str("addr", admin.Addr()).Int("sessions", len(views)).Int("running", len(running)).Msg("admin API listening")

			sig := waitForSignal()
			d.log.Info().Str("signal", sig.String()).Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.StopTimeout)
			defer cancel()
			if err := admin.Shutdown(shutdownCtx); err != nil {
				d.log.Warn().Err(err).Msg("admin server shutdown")
			}
			mgr.StopAll(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionsFile, "sessions", "", "YAML file listing the sessions to run (default $WABOT_SESSIONS_FILE)")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <sessionId> [port] [webhookUrl]",
		Short: "Run a single session in the foreground",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := sessionFromArgs(args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			mgr := d.manager()
			if err := mgr.LoadStored(ctx); err != nil {
				return err
			}
			ctrl, err := mgr.Start(ctx, sc)
			if err != nil {
				return err
			}

			snap := ctrl.Status()
			if snap.Status == model.StatusError {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.StopTimeout)
				defer cancel()
				mgr.StopAll(shutdownCtx)
				return errors.Errorf("session %s failed to initialize", sc.ID)
			}
			d.log.Info().Str("session_id", sc.ID).Int("port", ctrl.Config().Port).Msg("session running")

			sig := waitForSignal()
			d.log.Info().Str("signal", sig.String()).Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.StopTimeout)
			defer cancel()
			mgr.StopAll(shutdownCtx)
			return nil
		},
	}
	return cmd
}

// sessionFromArgs reads the positional form: <sessionId> [port] [webhookUrl].
// A port of 0 or "-" derives the port from the session id.
func sessionFromArgs(args []string) (config.SessionConfig, error) {
	sc := config.SessionConfig{ID: args[0]}
	if err := config.ValidateSessionID(sc.ID); err != nil {
		return sc, err
	}
	if len(args) > 1 && args[1] != "-" {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 0 || port > 65535 {
			return sc, errors.Errorf("invalid port %q", args[1])
		}
		sc.Port = port
	}
	if len(args) > 2 {
		sc.WebhookURL = strings.TrimSpace(args[2])
	}
	return sc, nil
}

func newTokenCmd() *cobra.Command {
	var (
		subject  string
		role     string
		sessions []string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control and admin APIs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			issuer := service.NewTokenIssuer(cfg.JWTSecret)
			if role == service.RoleOperator && len(sessions) == 0 {
				return errors.New("an operator token needs at least one --session")
			}

			token, err := issuer.Issue(subject, role, sessions, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "wabot", "token subject")
	cmd.Flags().StringVar(&role, "role", service.RoleAdmin, "admin or operator")
	cmd.Flags().StringSliceVar(&sessions, "session", nil, "session id an operator token may control (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", service.DefaultTokenTTL, "token lifetime")
	return cmd
}
