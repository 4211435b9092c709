package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tariel-x/relaygate/internal/auth"
	"github.com/tariel-x/relaygate/internal/config"
	"github.com/tariel-x/relaygate/internal/directory"
	"github.com/tariel-x/relaygate/internal/dispatch"
	"github.com/tariel-x/relaygate/internal/forwarder"
	"github.com/tariel-x/relaygate/internal/httpapi"
	"github.com/tariel-x/relaygate/internal/prt"
	"github.com/tariel-x/relaygate/internal/reaper"
	"github.com/tariel-x/relaygate/internal/router"
	"github.com/tariel-x/relaygate/internal/session"
)

const AppVersion = httpapi.Version

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	logger.Info(fmt.Sprintf("RelayGate %s starting", AppVersion), "instance_id", cfg.InstanceID, "port", cfg.Port)

	dir := buildDirectory(cfg, logger)
	fwd := buildForwarder(cfg, logger)
	defer fwd.Close()

	sessions := session.NewTable()
	prtTable := prt.NewTable(cfg.InstanceID)
	authenticator := auth.NewJWTAuthenticator(cfg.JWTSecret)

	dispatcher := &dispatch.Dispatcher{
		ReplicaID: cfg.InstanceID,
		Auth:      authenticator,
		Sessions:  sessions,
		Directory: dir,
		PRT:       prtTable,
		Forwarder: fwd,
		Logger:    logger,
	}

	if err := fwd.Subscribe(cfg.InstanceID, dispatcher.HandleForwardedRequest, dispatcher.HandleForwardedResult); err != nil {
		logger.Error("failed to subscribe to forwarder topics", "error", err)
		os.Exit(1)
	}

	resp := &router.Router{
		ReplicaID: cfg.InstanceID,
		PRT:       prtTable,
		Forwarder: fwd,
		Logger:    logger,
	}

	h := &httpapi.Handlers{
		ReplicaID:  cfg.InstanceID,
		Config:     cfg,
		Auth:       authenticator,
		Sessions:   sessions,
		Directory:  dir,
		PRT:        prtTable,
		Dispatcher: dispatcher,
		Router:     resp,
		Logger:     logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	reap := &reaper.Reaper{
		ReplicaID:         cfg.InstanceID,
		PRT:               prtTable,
		Sessions:          sessions,
		Directory:         dir,
		PRTSweepInterval:  cfg.PRTSweepInterval,
		IdleSweepInterval: cfg.IdleSweepInterval,
		IdleSessionLimit:  cfg.IdleSessionLimit,
		DirectoryTTL:      cfg.DirectoryTTL,
		Logger:            logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go reap.Run(ctx)

	engine := setupRouter(h, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.DefaultDeadline + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func setupRouter(h *httpapi.Handlers, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(slogGinLogger(logger))
	h.Register(r)
	return r
}

func buildDirectory(cfg *config.Config, logger *slog.Logger) directory.Directory {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR unset, running with no cross-replica directory")
		return directory.NullDirectory{}
	}
	logger.Info("using redis directory", "addr", cfg.RedisAddr)
	return directory.NewRedisDirectory(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

func buildForwarder(cfg *config.Config, logger *slog.Logger) forwarder.Forwarder {
	if cfg.NATSURL == "" {
		logger.Info("NATS_URL unset, running with no cross-replica forwarding")
		return forwarder.NoopForwarder{}
	}
	fwd, err := forwarder.NewNATSForwarder(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to connect to nats, falling back to noop forwarder", "error", err)
		return forwarder.NoopForwarder{}
	}
	logger.Info("using nats forwarder", "url", cfg.NATSURL)
	return fwd
}
