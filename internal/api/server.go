// Package api serves the helpdesk webhook and the event endpoints the chat
// product calls.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ticketbridge/internal/conversation"
	"github.com/ticketbridge/internal/helpdesk"
	"github.com/ticketbridge/internal/jobqueue"
	"github.com/ticketbridge/internal/store"
	"github.com/ticketbridge/internal/ticketlink"
)

// Enqueuer schedules sync work.
type Enqueuer interface {
	EnqueueInboundSync(ctx context.Context, args jobqueue.InboundSyncArgs) error
	EnqueueOutboundMessage(ctx context.Context, args jobqueue.OutboundMessageArgs) error
	EnqueueStateChange(ctx context.Context, args jobqueue.StateChangeArgs) error
	EnqueueImportThread(ctx context.Context, args jobqueue.ImportThreadArgs) error
	EnqueueInstall(ctx context.Context, args jobqueue.HelpdeskInstallArgs) error
}

// Linker opens and links tickets for conversations.
type Linker interface {
	CreateAndLink(ctx context.Context, conv *conversation.Conversation, actor *conversation.Actor, fields []helpdesk.TicketField) (*ticketlink.TicketReference, error)
}

type Options struct {
	Port      int
	JWTSecret string
	Store     store.Store
	Queue     Enqueuer
	Linker    Linker
	Logger    zerolog.Logger
}

// Server represents the API server
type Server struct {
	echo    *echo.Echo
	port    int
	store   store.Store
	queue   Enqueuer
	linker  Linker
	secret  []byte
	payload *jsonschema.Schema
	logger  zerolog.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) (*Server, error) {
	payload, err := compileWebhookSchema()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	s := &Server{
		echo:    e,
		port:    opts.Port,
		store:   opts.Store,
		queue:   opts.Queue,
		linker:  opts.Linker,
		secret:  []byte(opts.JWTSecret),
		payload: payload,
		logger:  opts.Logger.With().Str("component", "api").Logger(),
	}
	e.Use(s.requestLogger)
	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	s.echo.POST("/webhooks/zendesk/:orgID", s.handleHelpdeskWebhook)

	v1 := s.echo.Group("/api/v1", RequireAuth(s.secret))
	v1.POST("/events/messages", s.handleMessageEvent)
	v1.POST("/events/state-changes", s.handleStateChangeEvent)
	v1.POST("/conversations/:id/ticket", s.handleCreateTicket)
	v1.POST("/conversations/:id/import", s.handleImportThread)
	v1.POST("/organizations/:id/installation", s.handleInstall)
	v1.DELETE("/organizations/:id/installation", s.handleUninstall)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		s.logger.Debug().
			Str("method", req.Method).
			Str("path", c.Path()).
			Int("status", c.Response().Status).
			Dur("latency", time.Since(start)).
			Msg("Request served")
		return nil
	}
}
