package posestub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/posewire/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const adminNode = "posestub"

// Admin is the HTTP side door of a stub server: health, state and metrics.
type Admin struct {
	Addr     string
	Appeared time.Time

	server *Server
	router *gin.Engine
}

func NewAdmin(server *Server, addr string, corsOrigins []string) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminObserver{
		Node:    adminNode,
		Logger:  log.Logger,
		Context: server.logState,
	}.Middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		Addr:     addr,
		Appeared: time.Now(),
		server:   server,
		router:   r,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"service": adminNode,
		})
	})

	a.router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.server.Snapshot())
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve runs the admin endpoint until ctx is done.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", a.Addr).Msg("posestub admin listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// logState adds the RPC side's counters to admin log events.
func (s *Server) logState(e *zerolog.Event) {
	e.Int64("rpc_clients", s.active.Load()).Uint64("rpc_requests", s.requests.Load())
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
