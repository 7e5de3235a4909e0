// Command accountsd serves the account API over HTTP and a gRPC health
// endpoint guarded by the same credentials.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/caarlos0/env/v11"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	acc "github.com/panyam/accounts"
	authgrpc "github.com/panyam/accounts/grpc"
	"github.com/panyam/accounts/oauth2"
	"github.com/panyam/accounts/ratelimit"
	"github.com/panyam/accounts/stores/fs"
	"github.com/panyam/accounts/stores/gae"
	gormstore "github.com/panyam/accounts/stores/gorm"
)

// serverConfig holds the process settings that are not part of the
// account flows.
type serverConfig struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8000"`
	GRPCAddr    string `env:"GRPC_ADDR"`
	DatabaseURL string `env:"DATABASE_URL"`
	// Checked in order when DATABASE_URL is unset
	DatastoreProject   string `env:"DATASTORE_PROJECT_ID"`
	DatastoreNamespace string `env:"DATASTORE_NAMESPACE"`
	StoreDir           string `env:"STORE_DIR"`
	RedisURL           string `env:"REDIS_URL"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	LoginAttempts int           `env:"LOGIN_ATTEMPTS" envDefault:"10"`
	LoginWindow   time.Duration `env:"LOGIN_WINDOW" envDefault:"15m"`

	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"24h"`

	GoogleClientID     string `env:"OAUTH2_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"OAUTH2_GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"OAUTH2_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"OAUTH2_GITHUB_CLIENT_SECRET"`

	// Comma separated provider=url pairs overriding the callback routes
	CallbackURLs map[string]string `env:"OAUTH2_CALLBACK_URLS" envSeparator:"," envKeyValSeparator:"="`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("accountsd stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := acc.LoadConfig()
	if err != nil {
		return err
	}
	var sc serverConfig
	if err := env.Parse(&sc); err != nil {
		return fmt.Errorf("parsing server config: %w", err)
	}
	logger := newLogger(sc.LogFormat, sc.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, sc, logger)
	if err != nil {
		return err
	}

	sender, err := newEmailSender(cfg, logger)
	if err != nil {
		return err
	}

	auth := acc.NewLocalAuth(cfg, stores, sender, acc.WithLogger(logger))

	social := acc.NewSocialAuth(stores, nil, providers(sc)...)
	social.Logger = logger

	limiter, err := newLimiter(ctx, sc, logger)
	if err != nil {
		return err
	}

	opts := []acc.ServerOption{acc.WithServerLogger(logger), acc.WithLimiter(limiter)}
	if cfg.SessionLogin {
		sm := scs.New()
		sm.Lifetime = sc.SessionLifetime
		sm.Cookie.HttpOnly = true
		sm.Cookie.SameSite = http.SameSiteLaxMode
		sm.Cookie.Secure = strings.HasPrefix(cfg.BackendURL, "https://")
		opts = append(opts, acc.WithSessions(sm))
	}
	server := acc.NewServer(auth, social, acc.NewProfileService(stores, cfg.ProfileOwnerOnly), opts...)
	if len(sc.CallbackURLs) > 0 {
		if rc, ok := social.Callbacks.(*acc.RouteCallbacks); ok {
			rc.Overrides = acc.CallbackURLs(sc.CallbackURLs)
		}
	}

	httpServer := &http.Server{
		Addr:              sc.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", sc.HTTPAddr, "scheme", cfg.Scheme)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var grpcServer *grpc.Server
	if sc.GRPCAddr != "" {
		lis, err := net.Listen("tcp", sc.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", sc.GRPCAddr, err)
		}
		healthCheck := "/grpc.health.v1.Health/Check"
		grpcServer = grpc.NewServer(
			grpc.UnaryInterceptor(authgrpc.UnaryAuthInterceptor(authgrpc.NewPublicMethodsConfig(auth, healthCheck))),
			grpc.StreamInterceptor(authgrpc.StreamAuthInterceptor(authgrpc.DefaultInterceptorConfig(auth))),
		)
		healthpb.RegisterHealthServer(grpcServer, health.NewServer())
		go func() {
			logger.Info("grpc listening", "addr", sc.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return httpServer.Shutdown(shutdownCtx)
}

func openStores(ctx context.Context, sc serverConfig, logger *slog.Logger) (acc.Stores, error) {
	if sc.DatabaseURL == "" {
		if sc.DatastoreProject != "" {
			client, err := datastore.NewClient(ctx, sc.DatastoreProject)
			if err != nil {
				return acc.Stores{}, fmt.Errorf("opening datastore: %w", err)
			}
			return gae.NewStores(client, sc.DatastoreNamespace), nil
		}
		if sc.StoreDir == "" {
			return acc.Stores{}, errors.New("one of DATABASE_URL, DATASTORE_PROJECT_ID or STORE_DIR is required")
		}
		logger.Warn("using file stores, not for multi-process deployments", "dir", sc.StoreDir)
		store, err := fs.New(sc.StoreDir)
		if err != nil {
			return acc.Stores{}, fmt.Errorf("opening file stores: %w", err)
		}
		return store.Stores(), nil
	}
	db, err := gorm.Open(postgres.Open(sc.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return acc.Stores{}, fmt.Errorf("opening database: %w", err)
	}
	if err := gormstore.Migrate(ctx, db, logger); err != nil {
		return acc.Stores{}, err
	}
	return gormstore.NewStores(db), nil
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newEmailSender(cfg *acc.Config, logger *slog.Logger) (acc.SendEmail, error) {
	pm, err := acc.LoadPostmarkConfig(cfg)
	if err != nil {
		return nil, err
	}
	if pm.ServerToken == "" {
		logger.Warn("POSTMARK_SERVER_TOKEN not set, account mail is logged instead of sent")
		return &acc.ConsoleEmailSender{Logger: logger}, nil
	}
	return acc.NewPostmarkEmailSender(pm, acc.EmailComposer{AppName: cfg.AppName})
}

func newLimiter(ctx context.Context, sc serverConfig, logger *slog.Logger) (acc.LoginLimiter, error) {
	if sc.RedisURL == "" {
		return ratelimit.NewMemory(sc.LoginAttempts, sc.LoginWindow), nil
	}
	client, err := ratelimit.Connect(ctx, sc.RedisURL, 5, time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	logger.Info("sign-in throttling backed by redis")
	return ratelimit.NewRedis(client, sc.LoginAttempts, sc.LoginWindow), nil
}

func providers(sc serverConfig) []acc.SocialProvider {
	var out []acc.SocialProvider
	if g := oauth2.NewGoogle(sc.GoogleClientID, sc.GoogleClientSecret); g.ClientId != "" {
		out = append(out, g)
	}
	if g := oauth2.NewGitHub(sc.GitHubClientID, sc.GitHubClientSecret); g.ClientId != "" {
		out = append(out, g)
	}
	return out
}
