// Package relay provides the pitch feedback relay: it shapes client input into
// a chat-completion prompt and hands the upstream reply back untouched.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/papercomputeco/pitchrelay/pkg/llm"
)

// Completer sends a chat request upstream and returns the raw response body.
type Completer interface {
	Complete(ctx context.Context, req *llm.ChatRequest) (json.RawMessage, error)
}

// Relay is a stateless HTTP service. The only thing shared between requests
// is the upstream Completer and its connection pool.
type Relay struct {
	config   Config
	upstream Completer
	logger   *zap.Logger
	server   *fiber.App
}

// New creates a new Relay.
func New(config Config, upstream Completer, logger *zap.Logger) *Relay {
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	r := &Relay{
		config:   config,
		upstream: upstream,
		logger:   logger,
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		ErrorHandler:          r.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// The browser client reaches the relay under /api
	for _, router := range []fiber.Router{app, app.Group("/api")} {
		router.Post("/convert", r.handleConvert)
		router.Get("/health", r.handleHealth)
	}

	r.server = app
	return r
}

// Run starts the relay server on the configured listening address.
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		zap.String("listen", r.config.ListenAddr),
		zap.String("model", r.config.Model),
	)

	return r.server.Listen(r.config.ListenAddr)
}

// RunWithListener serves on an already bound listener.
func (r *Relay) RunWithListener(listener net.Listener) error {
	r.logger.Info("starting relay server", zap.String("listen", listener.Addr().String()))
	return r.server.Listener(listener)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (r *Relay) Shutdown() error {
	return r.server.Shutdown()
}

// Handler exposes the relay to net/http servers.
func (r *Relay) Handler() http.Handler {
	return adaptor.FiberApp(r.server)
}

func (r *Relay) handleHealth(c *fiber.Ctx) error {
	return c.JSON(llm.HealthResponse{Status: "healthy"})
}

// handleConvert builds the feedback prompt for the request and relays the
// upstream chat completion back to the caller verbatim.
func (r *Relay) handleConvert(c *fiber.Ctx) error {
	startTime := time.Now()

	var req llm.ConversionRequest
	if body := bytes.TrimSpace(c.Body()); len(body) > 0 {
		if body[0] != '{' {
			return r.fail(c, errors.New("decode request: body must be a JSON object"))
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return r.fail(c, fmt.Errorf("decode request: %w", err))
		}
	}

	r.logger.Info("received text",
		zap.String("text", truncate(req.Text, 200)),
		zap.Int("step_count", len(req.Steps)),
	)

	chatReq, err := BuildPrompt(&req, r.config.Model)
	if err != nil {
		return r.fail(c, err)
	}

	// The outbound call is not tied to the inbound connection: a client
	// disconnect leaves it running until it completes or times out.
	body, err := r.upstream.Complete(context.Background(), chatReq)
	if err != nil {
		return r.fail(c, err)
	}

	r.logger.Debug("relayed upstream response",
		zap.Int("body_size", len(body)),
		zap.Duration("duration", time.Since(startTime)),
	)

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(body)
}

func (r *Relay) fail(c *fiber.Ctx, err error) error {
	status, resp := errorResponse(err)
	if status >= fiber.StatusInternalServerError {
		r.logger.Error("convert request failed", zap.Error(err))
	} else {
		r.logger.Warn("rejected convert request", zap.Error(err))
	}
	return c.Status(status).JSON(resp)
}

// handleError renders errors that escape handlers, including recovered panics.
func (r *Relay) handleError(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(llm.ErrorResponse{Error: fiberErr.Message})
	}

	r.logger.Error("unhandled error",
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	_, resp := errorResponse(err)
	return c.Status(fiber.StatusInternalServerError).JSON(resp)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
