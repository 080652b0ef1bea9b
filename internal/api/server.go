// Package api exposes the board persistence service over HTTP.
//
// Every client operation maps to exactly one call. Failures are returned as
// {error, issues?} bodies with a status code derived from the error kind:
// validation 422 (400 for undecodable bodies), not found 404, conflict 409,
// anything else 500.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/events"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/store"
)

// Repository is the persistence boundary used by the handlers.
type Repository interface {
	Ping(ctx context.Context) error
	GetBoardContext(ctx context.Context, id string) (*board.Board, error)
	FindColumn(ctx context.Context, id string) (*board.Column, error)
	FindCard(ctx context.Context, id string) (*board.Card, error)

	CreateCard(ctx context.Context, in board.NewCard) (*board.Card, error)
	CreateColumn(ctx context.Context, in board.NewColumn) (*board.Column, error)
	UpdateCard(ctx context.Context, id string, patch board.CardPatch) (*board.Card, error)
	UpdateColumn(ctx context.Context, id string, patch board.ColumnPatch) (*board.Column, error)
	UpdateBoard(ctx context.Context, id string, patch board.BoardPatch) (*board.Board, error)
	DeleteCard(ctx context.Context, id string) error
	DeleteColumn(ctx context.Context, id string) error

	MoveCard(ctx context.Context, cardID, targetColumnID string, index int) (*store.MoveResult, error)
	MoveColumn(ctx context.Context, columnID string, index int) (*board.Column, error)
	ReorderColumns(ctx context.Context, boardID string, orders []board.ColumnOrder) error
}

// Config holds optional server collaborators.
type Config struct {
	// Idempotency deduplicates create calls. Nil disables it.
	Idempotency Idempotency

	// Publisher receives a notification after every committed write.
	Publisher events.Publisher

	// Events is mounted at /ws when set.
	Events http.Handler

	// Logger for request logging (default: logrus standard logger)
	Logger *log.Logger
}

// Server is the HTTP front of the persistence service.
type Server struct {
	echo *echo.Echo
	repo Repository
	cfg  Config
	log  *log.Logger
}

// New creates a server with every route registered.
func New(repo Repository, cfg Config) *Server {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(cfg.Logger))

	s := &Server{echo: e, repo: repo, cfg: cfg, log: cfg.Logger}
	s.register()
	return s
}

func (s *Server) register() {
	h := &handlers{repo: s.repo, idem: s.cfg.Idempotency, pub: s.cfg.Publisher, log: s.log}

	e := s.echo
	e.GET("/healthz", h.healthz)
	e.GET("/api/boards/:id", h.getBoard)
	e.PATCH("/api/boards/:id", h.updateBoard)

	e.POST("/api/cards", h.createCard)
	e.PATCH("/api/cards/:id", h.updateCard)
	e.DELETE("/api/cards/:id", h.deleteCard)
	e.POST("/api/cards/:id/move", h.moveCard)

	e.POST("/api/columns", h.createColumn)
	e.PATCH("/api/columns/reorder", h.reorderColumns)
	e.PATCH("/api/columns/:id", h.updateColumn)
	e.DELETE("/api/columns/:id", h.deleteColumn)
	e.POST("/api/columns/:id/move", h.moveColumn)

	if s.cfg.Events != nil {
		e.GET("/ws", echo.WrapHandler(s.cfg.Events))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and blocks until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.WithField("addr", addr).Info("persistence service listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func requestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			entry := logger.WithFields(log.Fields{
				"method":  req.Method,
				"path":    c.Path(),
				"status":  c.Response().Status,
				"latency": time.Since(start).String(),
			})
			if c.Response().Status >= http.StatusInternalServerError {
				entry.Warn("request failed")
			} else {
				entry.Debug("request")
			}
			return nil
		}
	}
}
