// Package httpapi exposes audio generation over HTTP: a generation route that
// accepts JSON or multipart bodies and a download route for generated files.
package httpapi

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/book-expert/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/book-expert/higgs-tts/internal/metrics"
	"github.com/book-expert/higgs-tts/internal/params"
	"github.com/book-expert/higgs-tts/internal/staging"
	"github.com/book-expert/higgs-tts/internal/tts"
)

// Routes.
const (
	RouteGenerate = "/generate"
	RouteAudio    = "/audio"
	RouteHealth   = "/health"
	RouteMetrics  = "/metrics"
)

const serverHeader = "higgs-tts"

// Static errors.
var (
	ErrMissingDependency = errors.New("service, stager and logger are required")
	ErrOutputDirEmpty    = errors.New("output directory cannot be empty")
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Service   *tts.Service
	Stager    *staging.Stager
	Metrics   *metrics.Metrics
	Log       *logger.Logger
	OutputDir string

	// MaxNewTokensCap bounds max_new_tokens; zero selects the default cap.
	MaxNewTokensCap int
	// BodyLimit is the request-body cap in bytes; zero keeps fiber's default.
	BodyLimit int
	// AccessLog receives one line per request when set.
	AccessLog io.Writer
	// Debug prints the route table at startup.
	Debug bool
	// NewID overrides file-id generation.
	NewID func() string
}

// Server wraps the Fiber app.
type Server struct {
	app *fiber.App
}

// New builds the app with middleware and routes registered.
func New(deps Deps) (*Server, error) {
	if deps.Service == nil || deps.Stager == nil || deps.Log == nil {
		return nil, ErrMissingDependency
	}

	if deps.OutputDir == "" {
		return nil, ErrOutputDirEmpty
	}

	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: !deps.Debug,
		EnablePrintRoutes:     deps.Debug,
		ServerHeader:          serverHeader,
		BodyLimit:             deps.BodyLimit,
		ErrorHandler:          errorHandler,
	})

	app.Use(requestid.New())
	app.Use(recover.New())

	if deps.AccessLog != nil {
		app.Use(fiberlogger.New(fiberlogger.Config{Output: deps.AccessLog}))
	}

	if deps.Metrics != nil {
		app.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()

			route := c.Path()
			if r := c.Route(); r != nil && r.Path != "" {
				route = r.Path
			}

			status := c.Response().StatusCode()
			if err != nil {
				status = fiber.StatusInternalServerError

				var fiberErr *fiber.Error
				if errors.As(err, &fiberErr) {
					status = fiberErr.Code
				}
			}

			deps.Metrics.ObserveHTTP(c.Method(), route, status, time.Since(start))

			return err
		})

		app.Get(RouteMetrics, adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	h := &handler{
		service:   deps.Service,
		stager:    deps.Stager,
		log:       deps.Log,
		outputDir: deps.OutputDir,
		bounds:    params.HTTPBounds(deps.MaxNewTokensCap),
		newID:     deps.NewID,
	}

	app.Get(RouteHealth, h.health)
	app.Post(RouteGenerate, h.generate)
	app.Get(RouteAudio+"/:filename", h.download)

	return &Server{app: app}, nil
}

// App exposes the Fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
