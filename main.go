package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/do/v2"
	"github.com/vreid/kessen/internal/pkg/common"
	"github.com/vreid/kessen/internal/pkg/ledger"
	"github.com/vreid/kessen/internal/pkg/notifier"
	"github.com/vreid/kessen/internal/pkg/predictions"
	"github.com/vreid/kessen/internal/pkg/registry"
	"github.com/vreid/kessen/internal/pkg/rewarder"
	"go.uber.org/zap"

	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

type KessenService struct {
	Logger          *zap.Logger             `do:""`
	DatabaseService *common.DatabaseService `do:""`
	EchoService     *common.EchoService     `do:""`

	LedgerService      *ledger.LedgerService           `do:""`
	RegistryService    *registry.RegistryService       `do:""`
	PredictionsService *predictions.PredictionsService `do:""`
	NotifierService    *notifier.NotifierService       `do:""`
	RewarderService    *rewarder.RewarderService       `do:""`
}

//nolint:funlen
func runServer(ctx context.Context, cmd *cli.Command) error {
	i := do.New()

	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))

	do.ProvideNamedValue(i, "log-level", cmd.String("log-level"))
	do.ProvideNamedValue(i, "log-encoding", cmd.String("log-encoding"))

	do.ProvideNamedValue(i, "jwt-secret", cmd.String("jwt-secret"))
	do.ProvideNamedValue(i, "token-ttl-minutes", cmd.Int("token-ttl-minutes"))

	do.ProvideNamedValue(i, "redis-addr", cmd.String("redis-addr"))
	do.ProvideNamedValue(i, "redis-password", cmd.String("redis-password"))

	do.ProvideNamedValue(i, "token-base-uri", cmd.String("token-base-uri"))
	do.ProvideNamedValue(i, "ws-allowed-origins", cmd.StringSlice("ws-allowed-origins"))

	eventChan := make(chan ledger.Event, cmd.Int("event-buffer"))
	var eventSource <-chan ledger.Event = eventChan
	var eventSink chan<- ledger.Event = eventChan

	do.ProvideNamedValue(i, "event-source", eventSource)
	do.ProvideNamedValue(i, "event-sink", eventSink)

	do.Provide(i, common.NewLogger)
	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewAuthService)
	do.Provide(i, common.NewEchoService)

	do.Provide(i, ledger.NewLedgerService)
	do.Provide(i, registry.NewRegistryService)
	do.Provide(i, predictions.NewPredictionsService)
	do.Provide(i, notifier.NewNotifierService)
	do.Provide(i, rewarder.NewRewarderService)

	do.Provide(i, do.InvokeStruct[KessenService])

	kessenService, err := do.Invoke[KessenService](i)
	if err != nil {
		return fmt.Errorf("failed to create kessen service: %w", err)
	}

	logger := kessenService.Logger

	defer func() {
		_ = logger.Sync()
	}()

	kessenService.NotifierService.Subscribe(kessenService.RewarderService)
	kessenService.NotifierService.Start()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)

	go func() {
		errChan <- kessenService.EchoService.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = kessenService.EchoService.Shutdown(shutdownCtx)
	if err != nil {
		// Handlers may still be submitting, so the event channel stays open.
		return fmt.Errorf("failed to shut down echo: %w", err)
	}

	close(eventChan)

	err = kessenService.NotifierService.Shutdown(shutdownCtx)
	if err != nil {
		logger.Warn("notifier shutdown failed", zap.Error(err))
	}

	err = kessenService.DatabaseService.Shutdown()
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func issueToken(_ context.Context, cmd *cli.Command) error {
	authService := &common.AuthService{
		Secret:   []byte(cmd.String("jwt-secret")),
		TokenTTL: time.Duration(cmd.Int("token-ttl-minutes")) * time.Minute,
	}

	token, expiresAt, err := authService.Sign(common.Identity{
		Subject: cmd.String("subject"),
		Role:    cmd.String("role"),
	})
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	_, err = fmt.Fprintf(os.Stdout, "%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}

	return nil
}

func authFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "jwt-secret",
			Value:   "secret",
			Sources: cli.EnvVars("KESSEN_JWT_SECRET"),
		},
		&cli.IntFlag{
			Name:    "token-ttl-minutes",
			Value:   24 * 60, //nolint:mnd
			Sources: cli.EnvVars("KESSEN_TOKEN_TTL_MINUTES"),
		},
	}
}

//nolint:funlen
func main() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	//nolint:exhaustruct
	cmd := &cli.Command{
		Name:  "kessen",
		Usage: "asset battle ledger and leaderboard",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Value:   3000, //nolint:mnd
						Sources: cli.EnvVars("KESSEN_PORT"),
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Value:   "./kessen/data",
						Sources: cli.EnvVars("KESSEN_DATA_DIR"),
					},
					&cli.StringFlag{
						Name:    "log-level",
						Value:   "info",
						Sources: cli.EnvVars("KESSEN_LOG_LEVEL"),
					},
					&cli.StringFlag{
						Name:    "log-encoding",
						Value:   "json",
						Sources: cli.EnvVars("KESSEN_LOG_ENCODING"),
					},
					&cli.StringFlag{
						Name:    "redis-addr",
						Value:   "",
						Sources: cli.EnvVars("KESSEN_REDIS_ADDR"),
					},
					&cli.StringFlag{
						Name:    "redis-password",
						Value:   "",
						Sources: cli.EnvVars("KESSEN_REDIS_PASSWORD"),
					},
					&cli.StringFlag{
						Name:    "token-base-uri",
						Value:   rewarder.DefaultTokenBaseURI,
						Sources: cli.EnvVars("KESSEN_TOKEN_BASE_URI"),
					},
					&cli.StringSliceFlag{
						Name:    "ws-allowed-origins",
						Usage:   "origins allowed to open the leaderboard stream, any when empty",
						Sources: cli.EnvVars("KESSEN_WS_ALLOWED_ORIGINS"),
					},
					&cli.IntFlag{
						Name:    "event-buffer",
						Value:   1000, //nolint:mnd
						Sources: cli.EnvVars("KESSEN_EVENT_BUFFER"),
					},
				}, authFlags()...),
				Action: runServer,
			},
			{
				Name:  "token",
				Usage: "issue a bearer token for an account",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "subject",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "role",
						Value: common.RoleParticipant,
					},
				}, authFlags()...),
				Action: issueToken,
			},
		},
		DefaultCommand: "server",
	}

	err = cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
