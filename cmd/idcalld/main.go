package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"golang.org/x/crypto/acme/autocert"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
	"github.com/TekiyoCorp/ID-sub000/internal/config"
	"github.com/TekiyoCorp/ID-sub000/internal/handlers"
	"github.com/TekiyoCorp/ID-sub000/internal/media"
	"github.com/TekiyoCorp/ID-sub000/internal/orchestrator"
	"github.com/TekiyoCorp/ID-sub000/internal/permission"
	"github.com/TekiyoCorp/ID-sub000/internal/store"
	"github.com/TekiyoCorp/ID-sub000/internal/telephony"
	"github.com/TekiyoCorp/ID-sub000/internal/turn"
	"github.com/TekiyoCorp/ID-sub000/internal/wake"
)

const AppVersion = "1.0.0"

func main() {
	sim := flag.Bool("sim", false, "Use simulated media and telephony engines")
	httpOnly := flag.Bool("http-only", false, "Serve plain HTTP (no Let's Encrypt)")
	flag.Parse()

	cfg := config.Load()
	if *sim {
		cfg.MediaEngine = config.EngineSim
	}

	logger := newLogger()
	logger.Info(fmt.Sprintf("idcalld v%s", AppVersion), "engine", cfg.MediaEngine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DBPath, "error", err)
		return
	}

	turnServer, err := turn.Start(cfg.TURNPort, cfg.TURNRealm, logger)
	if err != nil {
		logger.Error("failed to start TURN server", "error", err)
		return
	}
	defer turnServer.Close()

	self := call.Peer{ID: cfg.PeerID, DisplayName: cfg.DisplayName}

	notifier := wake.NewWebPushNotifier(self, st, wake.VAPIDKeys{
		PublicKey:  cfg.VAPIDKeys.PublicKey,
		PrivateKey: cfg.VAPIDKeys.PrivateKey,
		Subject:    cfg.VAPIDKeys.Subject,
	}, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Gate:     newGate(cfg),
		Media:    media.NewManager(newEngine(cfg, turnServer, logger), logger),
		Tel:      telephony.NewSimBridge(),
		Notifier: notifier,
	}, orchestrator.Config{
		DisconnectGrace: cfg.DisconnectGrace(),
	}, logger)
	go orch.Run(ctx)
	go recordFinishedCalls(ctx, orch, st, logger)

	wakeBridge := wake.NewBridge(orch, cfg.WakeWindow(), logger)

	h := handlers.New(cfg, st, orch, wakeBridge, turnServer, logger)
	router := setupRouter(h, logger)

	serve(ctx, router, cfg, *httpOnly, logger)
}

// newGate builds the permission gate. Simulated mode grants everything;
// a real shell would plug a platform authorizer in here.
func newGate(cfg *config.Config) *permission.Gate {
	return permission.NewGate(&permission.StaticAuthorizer{
		Grants: map[permission.Resource]permission.Status{
			permission.ResourceMicrophone: permission.StatusGranted,
			permission.ResourceCamera:     permission.StatusGranted,
		},
	})
}

func newEngine(cfg *config.Config, turnServer *turn.Server, logger *slog.Logger) media.Engine {
	if cfg.MediaEngine == config.EngineSim {
		// Nothing drives connectivity in sim mode, so handles must
		// connect on their own for calls to leave connecting_media.
		engine := media.NewSimEngine()
		engine.AutoConnect = true
		return engine
	}

	creds := turnServer.Credentials()
	iceServers := []webrtc.ICEServer{
		{URLs: []string{fmt.Sprintf("stun:%s:%d", cfg.Domain, cfg.TURNPort)}},
		{
			URLs:       []string{fmt.Sprintf("turn:%s:%d", cfg.Domain, cfg.TURNPort)},
			Username:   creds.Username,
			Credential: creds.Password,
		},
	}

	// Audio routing is a platform concern; the server build has no
	// loudspeaker to switch, so the route setter only logs.
	setRoute := func(speaker bool) error {
		logger.Debug("speaker route changed", "speaker", speaker)
		return nil
	}

	return media.NewWebRTCEngine(iceServers, setRoute, logger)
}

// recordFinishedCalls persists a history row for every call that
// reaches a terminal phase.
func recordFinishedCalls(ctx context.Context, orch *orchestrator.Orchestrator, st *store.Store, logger *slog.Logger) {
	snapshots, cancel := orch.Subscribe()
	defer cancel()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if !snap.Phase.Terminal() {
				continue
			}
			if _, err := st.RecordCall(snap); err != nil {
				logger.Error("failed to record call", "session_id", snap.ID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func setupRouter(h *handlers.Handlers, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(slogGinLogger(logger), gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h.Routes(router)
	return router
}

func serve(ctx context.Context, router *gin.Engine, cfg *config.Config, httpOnly bool, logger *slog.Logger) {
	if httpOnly || cfg.Domain == "localhost" {
		serveHTTP(ctx, router, cfg, logger)
		return
	}
	serveAutocert(ctx, router, cfg, logger)
}

func serveHTTP(ctx context.Context, router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go shutdownOnCancel(ctx, server, logger)

	logger.Info("HTTP server starting", "port", cfg.HTTPPort)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server failed", "error", err)
	}
}

func serveAutocert(ctx context.Context, router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	certsDir := filepath.Join(filepath.Dir(config.KeysDirectory()), "certs")
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		logger.Error("failed to create certs directory", "error", err)
		return
	}

	domain := strings.ToLower(strings.TrimSpace(cfg.Domain))

	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domain),
		Cache:      autocert.DirCache(certsDir),
	}

	// Port 80 serves ACME challenges and redirects everything else.
	challengeServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: m.HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
		})),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("ACME challenge server starting", "port", cfg.HTTPPort)
		if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ACME challenge server failed", "error", err)
		}
	}()

	server := &http.Server{
		Addr:         ":443",
		Handler:      router,
		TLSConfig:    m.TLSConfig(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     newServerErrorLog(logger),
	}

	go shutdownOnCancel(ctx, server, logger)
	go shutdownOnCancel(ctx, challengeServer, logger)

	logger.Info("HTTPS server starting", "domain", domain, "certs", certsDir)
	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTPS server failed", "error", err)
	}
}

func shutdownOnCancel(ctx context.Context, server *http.Server, logger *slog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}
