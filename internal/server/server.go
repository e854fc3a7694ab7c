package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Quniber/Wasel-sub001/internal/auth"
	"github.com/Quniber/Wasel-sub001/internal/controlplane"
	"github.com/Quniber/Wasel-sub001/internal/gateway"
	"github.com/Quniber/Wasel-sub001/internal/server/middleware"
	"github.com/Quniber/Wasel-sub001/pkg/config"
	"github.com/Quniber/Wasel-sub001/pkg/state"
	"github.com/Quniber/Wasel-sub001/pkg/state/statemanager"
	"github.com/Quniber/Wasel-sub001/pkg/transport"
	"github.com/coder/websocket"
)

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	gateway      *gateway.Gateway
	control      *controlplane.API
	wg           sync.WaitGroup
	http         *http.Server
	handler      http.Handler
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	stateManager := statemanager.NewInMemoryManager(logger)
	verifier := auth.NewVerifier(cfg.Server.Auth.JWTSecret)
	gw := gateway.New(logger, stateManager, verifier, cfg.Transport.HandshakeTimeout)
	control := controlplane.New(logger, gw, stateManager, cfg.Dispatch.OfferTTL)

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		gateway:      gw,
		control:      control,
		config:       cfg,
		ctx:          rootCtx,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				gw.SessionCountForIP,
				cfg.Server.RateLimit.MaxConnsPerIP,
			),
		),
	)

	apiMux := http.NewServeMux()
	app.registerRoutes(apiMux)
	mux.Handle("/",
		middleware.Chain(apiMux,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
		),
	)

	app.handler = mux
	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Handler exposes the composed mux, primarily for tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	var ip string
	if reqMeta != nil {
		ip = reqMeta.IP
	}
	connLogger := a.logger.With(slog.String("remoteAddr", ip))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout: a.config.Transport.ReadTimeout,
			SendBuffer:  a.config.Transport.SendBuffer,
		},
		a.gateway.HandleMessage,
		a.gateway.HandleClose,
		a.logger,
	)

	// Track the pending session before the pumps start so the handshake
	// deadline covers the whole unauthenticated window.
	a.gateway.HandleConnection(conn, ip)

	connLogger.Debug("Transport session open, awaiting handshake", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Close every live session, authenticated or not, and wait for the
	// connection goroutines to finish their cleanup.
	a.logger.Info("Closing all active connections...")
	a.gateway.CloseAll(errors.New("graceful shutdown"))
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
