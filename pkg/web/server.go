// Package web serves the conversation dashboard: a JSON API, live
// websocket feeds of sentences and turn decisions, and Prometheus metrics.
package web

import (
	"context"
	_ "embed"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-parley/pkg/dialogue"
	"github.com/teslashibe/go-parley/pkg/history"
	"github.com/teslashibe/go-parley/pkg/hub"
	"github.com/teslashibe/go-parley/pkg/metrics"
	"github.com/teslashibe/go-parley/pkg/turn"
)

//go:embed static/index.html
var indexHTML []byte

// Conversation is the dialogue surface the dashboard drives.
type Conversation interface {
	HumanSaysTo(ctx context.Context, text string, addressee turn.ParticipantID) ([]dialogue.TurnEvent, error)
	Interrupt()
	State() dialogue.State
	Generation() uint64
	SessionID() uuid.UUID
	Roster() *turn.Roster
	History() *history.Store
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	convo  Conversation
	logger *slog.Logger

	// Hubs for websocket broadcast
	sentenceHub *hub.Hub
	turnHub     *hub.Hub
}

// NewServer creates a dashboard for convo. A nil registry disables /metrics.
func NewServer(convo Conversation, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		convo:       convo,
		logger:      logger.With("component", "web.server"),
		sentenceHub: hub.New("sentences"),
		turnHub:     hub.New("turns"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Parley",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	// CORS for local development
	app.Use(cors.New())

	app.Get("/", func(c *fiber.Ctx) error {
		c.Type("html")
		return c.Send(indexHTML)
	})

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleGetConversation)
	api.Post("/say", s.handleSay)
	api.Post("/interrupt", s.handleInterrupt)

	if reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(reg)))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/sentences", websocket.New(func(c *websocket.Conn) {
		hub.NewClient(s.sentenceHub, c).Run()
	}))
	app.Get("/ws/turns", websocket.New(func(c *websocket.Conn) {
		hub.NewClient(s.turnHub, c).Run()
	}))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs and serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.sentenceHub.Run(ctx)
	go s.turnHub.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", addr)
		errc <- s.app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.logger.Info("dashboard shutting down")
		return s.app.Shutdown()
	}
}

// OnSentence broadcasts an emitted sentence.
func (s *Server) OnSentence(e dialogue.SentenceEvent) {
	s.sentenceHub.Publish("sentence", sentencePayload{
		Generation:      e.Generation,
		Speaker:         string(e.Speaker),
		SpeakerName:     e.SpeakerName,
		Index:           e.Sentence.Index,
		Text:            e.Sentence.Text,
		NewlineAnchored: e.Sentence.NewlineAnchored,
	})
}

// OnTurn broadcasts a finished utterance and its decision.
func (s *Server) OnTurn(e dialogue.TurnEvent) {
	s.turnHub.Publish("turn", newTurnPayload(e))
}

// SentenceHub returns the sentence feed hub.
func (s *Server) SentenceHub() *hub.Hub {
	return s.sentenceHub
}

// TurnHub returns the turn feed hub.
func (s *Server) TurnHub() *hub.Hub {
	return s.turnHub
}

var _ dialogue.Sink = (*Server)(nil)
