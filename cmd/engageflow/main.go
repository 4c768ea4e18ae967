package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/careloop/engageflow/internal/api"
	"github.com/careloop/engageflow/internal/auth"
	"github.com/careloop/engageflow/internal/backend"
	"github.com/careloop/engageflow/internal/chat"
	"github.com/careloop/engageflow/internal/config"
	"github.com/careloop/engageflow/internal/controller"
	"github.com/careloop/engageflow/internal/genai"
	"github.com/careloop/engageflow/internal/lockfile"
	"github.com/careloop/engageflow/internal/models"
	"github.com/careloop/engageflow/internal/notify"
	"github.com/careloop/engageflow/internal/pharmacy"
	"github.com/careloop/engageflow/internal/store"
	"github.com/careloop/engageflow/internal/suggest"
	"github.com/careloop/engageflow/internal/timers"
)

// DefaultDBFileName is the SQLite database filename under the state dir.
const DefaultDBFileName = "engageflow.db"

func main() {
	cfg := loadConfiguration()
	initializeLogger(cfg.Debug)
	parseCommandLineFlags(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.DBDriver == "sqlite3" {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	st, err := buildStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	backendClient, err := backend.NewClient(backend.WithBaseURL(cfg.BackendBaseURL))
	if err != nil {
		slog.Error("Failed to create backend client", "error", err)
		os.Exit(1)
	}

	provider := buildSuggestionProvider(cfg, backendClient)
	smsService := buildNotificationService(cfg)

	factory := buildInstanceFactory(cfg, st, backendClient, provider, smsService)
	server := api.NewServer(factory, api.WithAddr(cfg.Addr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping EngageFlow", "addr", cfg.Addr, "db_driver", cfg.DBDriver)
	if err := server.Run(ctx); err != nil {
		slog.Error("EngageFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("EngageFlow exited successfully")
}

// initializeLogger sets up structured logging.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadConfiguration loads the .env file and parses the environment.
func loadConfiguration() *config.Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to parse environment configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// parseCommandLineFlags applies flag overrides on top of the environment.
func parseCommandLineFlags(cfg *config.Config) {
	addr := flag.String("addr", cfg.Addr, "API listen address")
	stateDir := flag.String("state-dir", cfg.StateDir, "state directory for SQLite data")
	dbDriver := flag.String("db-driver", cfg.DBDriver, "database driver (sqlite3 or postgres)")
	dbDSN := flag.String("db-dsn", cfg.DBDSN, "database connection string")
	backendURL := flag.String("backend-url", cfg.BackendBaseURL, "verification backend base URL")
	openaiKey := flag.String("openai-api-key", cfg.OpenAIAPIKey, "OpenAI API key for suggestion generation")
	debug := flag.Bool("debug", cfg.Debug, "enable debug logging")
	flag.Parse()

	cfg.Addr = *addr
	cfg.StateDir = *stateDir
	cfg.DBDriver = *dbDriver
	cfg.DBDSN = *dbDSN
	cfg.BackendBaseURL = *backendURL
	cfg.OpenAIAPIKey = *openaiKey
	cfg.Debug = *debug
}

// buildStore opens the configured store backend.
func buildStore(cfg *config.Config) (store.Store, error) {
	if cfg.DBDriver == "postgres" {
		return store.NewPostgresStore(store.WithDSN(cfg.DBDSN))
	}
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = filepath.Join(cfg.StateDir, DefaultDBFileName)
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildSuggestionProvider picks OpenAI when a key is configured, otherwise
// the product backend's generation endpoints.
func buildSuggestionProvider(cfg *config.Config, backendClient *backend.Client) suggest.Provider {
	if cfg.OpenAIAPIKey == "" {
		slog.Info("Suggestion provider: product backend (no OpenAI key configured)")
		return backendClient
	}
	opts := []genai.Option{genai.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(cfg.OpenAIModel))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		slog.Warn("OpenAI client unavailable, falling back to backend provider", "error", err)
		return backendClient
	}
	slog.Info("Suggestion provider: OpenAI")
	return client
}

// buildNotificationService wires Twilio when credentials are present.
func buildNotificationService(cfg *config.Config) notify.Service {
	if !cfg.TwilioConfigured() {
		slog.Info("Twilio not configured, SMS notifications disabled")
		return notify.NoopService{}
	}
	svc, err := notify.NewTwilioService(
		notify.WithAccountSID(cfg.TwilioAccountSID),
		notify.WithAuthToken(cfg.TwilioAuthToken),
		notify.WithFromNumber(cfg.TwilioFromNumber),
	)
	if err != nil {
		slog.Warn("Twilio service unavailable, SMS notifications disabled", "error", err)
		return notify.NoopService{}
	}
	return svc
}

// availabilityNotifier sends the pharmacy availability SMS to the
// authenticated user's phone.
type availabilityNotifier struct {
	sms  notify.Service
	auth *auth.Session
}

func (n *availabilityNotifier) NotifyAvailability(ctx context.Context, target models.PharmacyTarget) error {
	to := n.auth.PhoneNumber()
	if to == "" {
		slog.Debug("Skipping availability SMS, no verified phone")
		return nil
	}
	return n.sms.SendSMS(ctx, models.NotificationAvailability, to, map[string]string{
		"pharmacy_name": target.Name,
	})
}

// buildInstanceFactory assembles the per-widget module bundle.
func buildInstanceFactory(cfg *config.Config, st store.Store, backendClient *backend.Client, provider suggest.Provider, smsService notify.Service) api.InstanceFactory {
	return func(sessionID string) *api.Instance {
		slog.Debug("Building widget instance", "sessionID", sessionID)

		authSession := auth.NewSession(backendClient, st, auth.WithNotifier(smsService))
		chatSession := chat.NewSession(backendClient, timers.NewWallClock(),
			chat.WithStagger(cfg.ChatStagger), chat.WithStore(st))
		engine := suggest.NewEngine(provider, chatSession, timers.NewWallClock())

		machine := pharmacy.NewMachine(nil, &availabilityNotifier{sms: smsService, auth: authSession})
		run := &controller.PharmacyRun{
			Machine: machine,
			Runner:  pharmacy.NewRunner(machine, timers.NewWallClock()),
		}

		return &api.Instance{
			Controller: controller.New(authSession, chatSession, engine, run),
			Auth:       authSession,
			Chat:       chatSession,
			Suggest:    engine,
			Pharmacy:   run,
		}
	}
}
