package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"linkgate.org/internal/auth"
	"linkgate.org/internal/broadcast"
	"linkgate.org/internal/config"
	"linkgate.org/internal/federation"
	"linkgate.org/internal/httpapi"
	"linkgate.org/internal/ids"
	"linkgate.org/internal/obs"
	"linkgate.org/internal/provider"
	"linkgate.org/internal/store/pg"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		obs.Logger().Fatal("load config", zap.Error(err))
	}
	obs.InitLogger(obs.LogConfig{Env: cfg.LogEnv, Level: cfg.LogLevel, Service: "linkgate-api", Version: cfg.Version})
	defer func() { _ = obs.Sync() }()

	if err := cfg.Validate(); err != nil {
		obs.Logger().Fatal("invalid config", zap.Error(err))
	}
	obs.Init()
	obs.SetBuildInfo(cfg.Version, cfg.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Logger().Fatal("linkgate-api stopped", zap.Error(err))
	}
	obs.Logger().Info("stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := obs.Logger()

	db, err := pg.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
	}

	store := auth.NewPGStore(db)
	nonces := auth.NewNonces(nonceStore(ctx, cfg, store, rdb), auth.WithNonceTTL(cfg.NonceTTL))
	fence := auth.NewFence(store.Fences(ctx), nil)

	idp, err := provider.New(provider.Config{
		ClientID:       cfg.Provider.ClientID,
		ClientSecret:   cfg.Provider.ClientSecret,
		Scope:          cfg.Provider.Scope,
		RedirectURL:    cfg.RedirectURL(),
		AuthorizeURL:   cfg.Provider.AuthorizeURL,
		TokenURL:       cfg.Provider.TokenURL,
		ResourceURL:    cfg.Provider.ResourceURL,
		TokenUserURL:   cfg.Provider.TokenUserURL,
		RequestTimeout: cfg.Provider.Timeout,
	})
	if err != nil {
		return err
	}

	hub := broadcast.NewHub()
	var relay *broadcast.RedisRelay
	if rdb != nil {
		relay = broadcast.NewRedisRelay(rdb, cfg.RedisPrefix+":broadcast", ids.New(), hub)
	}
	channels, err := broadcast.NewAuthorizer(cfg.ChannelAuthKey, cfg.ChannelSecret(), 0)
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return err
	}

	controller := federation.NewController(nonces, fence, idp, store.Links(ctx), store.Accounts(ctx))
	webhooks := federation.NewWebhookProcessor(idp, store.Links(ctx), fence,
		broadcast.NewBroadcaster(hub, relay), cfg.BroadcastNamespace,
		federation.WithBroadcastTimeout(cfg.BroadcastTimeout))

	probe := httpapi.ReadyProbe{DB: db}
	if rdb != nil {
		probe.Redis = rdb
	}
	api, err := httpapi.New(httpapi.Options{
		Controller:       controller,
		Webhooks:         webhooks,
		Sessions:         sessions,
		Accounts:         store.Accounts(ctx),
		Channels:         channels,
		Hub:              hub,
		Ready:            probe,
		Version:          cfg.Version,
		PasswordsAllowed: cfg.PasswordsAllowed,
		CookieName:       cfg.SessionCookie,
		SecureCookies:    cfg.SecureCookies,
		ConnectPage:      cfg.ConnectPage,
		WarningPage:      cfg.WarningPage,
		HomePage:         cfg.HomePage,
		MaxBodyBytes:     cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout: /federation/events streams indefinitely
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting linkgate-api", zap.String("addr", srv.Addr), zap.String("version", cfg.Version), zap.String("nonce_backend", cfg.NonceBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	if cfg.NoncePruneInterval > 0 {
		g.Go(func() error {
			pruneNonces(gctx, nonces, cfg.NoncePruneInterval)
			return nil
		})
	}
	return g.Wait()
}

func nonceStore(ctx context.Context, cfg config.Config, store *auth.PGStore, rdb *redis.Client) auth.NonceStore {
	switch cfg.NonceBackend {
	case config.NonceBackendRedis:
		return auth.NewRedisNonceStore(rdb, cfg.RedisPrefix, cfg.NonceTTL)
	case config.NonceBackendMemory:
		return auth.NewMemoryNonceStore(cfg.NonceTTL)
	default:
		return store.Nonces(ctx)
	}
}

func pruneNonces(ctx context.Context, nonces *auth.Nonces, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := nonces.Prune(ctx)
			if err != nil {
				obs.Logger().Warn("prune nonces", zap.Error(err))
				continue
			}
			if n > 0 {
				obs.Logger().Debug("pruned nonces", zap.Int64("count", n))
			}
		}
	}
}
