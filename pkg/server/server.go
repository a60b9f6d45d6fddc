// Package server exposes the crop pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"go.uber.org/zap"

	"github.com/menta2k/facecrop/pkg/batch"
	"github.com/menta2k/facecrop/pkg/detection"
	"github.com/menta2k/facecrop/pkg/geometry"
	"github.com/menta2k/facecrop/pkg/processing"
	"github.com/menta2k/facecrop/pkg/types"
)

const shutdownTimeout = 10 * time.Second

// Options configures the server defaults. Each request may override the
// ratio and policy with query parameters.
type Options struct {
	Ratio     types.AspectRatio
	Policy    geometry.Policy
	Quality   int
	Lossless  bool
	BodyLimit string // echo size notation, e.g. "32M"
}

// Server serves POST /crop.
type Server struct {
	echo      *echo.Echo
	detector  detection.Detector
	processor *processing.Processor
	opts      Options
	logger    *zap.SugaredLogger
}

// New creates a server around a shared detector.
func New(det detection.Detector, opts Options, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if !opts.Ratio.Valid() {
		opts.Ratio = types.AspectRatio{Width: 1, Height: 1}
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = "32M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.WARN)

	s := &Server{
		echo:      e,
		detector:  det,
		processor: processing.NewProcessor(),
		opts:      opts,
		logger:    logger,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(opts.BodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Infow("request", "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
			return nil
		},
	}))

	e.GET("/", func(c echo.Context) error { return c.JSON(http.StatusOK, "OK") })
	e.POST("/crop", s.handleCrop)

	return s
}

// Handler returns the HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on addr until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("listening", "addr", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) handleCrop(c echo.Context) error {
	content, err := io.ReadAll(c.Request().Body)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return echo.NewHTTPError(http.StatusBadRequest, "image upload is incomplete")
		}
		return err
	}
	if len(content) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "request body is empty")
	}

	ratio, policy, err := s.requestParams(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	img, format, err := s.processor.DecodeBytes(content)
	if err != nil {
		if errors.Is(err, types.ErrDecode) {
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, "only PNG, JPEG and WebP images are accepted")
		}
		return err
	}

	ctx := c.Request().Context()
	out, err := batch.Crop(ctx, img, s.detector, ratio, policy, s.logger)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := s.processor.Encode(&buf, out.Image, format, s.opts.Quality, s.opts.Lossless); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	h := c.Response().Header()
	h.Set("X-Crop-Rect", out.Plan.Rect.String())
	h.Set("X-Faces", strconv.Itoa(len(out.Faces)))
	return c.Blob(http.StatusOK, processing.ContentType(format), buf.Bytes())
}

// requestParams reads width, height and policy from the query string,
// falling back to the server defaults.
func (s *Server) requestParams(c echo.Context) (types.AspectRatio, geometry.Policy, error) {
	ratio := s.opts.Ratio
	policy := s.opts.Policy

	w, h := c.QueryParam("width"), c.QueryParam("height")
	if w != "" || h != "" {
		var err error
		if ratio.Width, err = strconv.ParseFloat(w, 64); err != nil {
			return ratio, policy, fmt.Errorf("could not read width: %v", err)
		}
		if ratio.Height, err = strconv.ParseFloat(h, 64); err != nil {
			return ratio, policy, fmt.Errorf("could not read height: %v", err)
		}
		if !ratio.Valid() {
			return ratio, policy, fmt.Errorf("width and height must be positive")
		}
	}

	if p := c.QueryParam("policy"); p != "" {
		var err error
		if policy, err = geometry.ParsePolicy(p); err != nil {
			return ratio, policy, err
		}
	}
	return ratio, policy, nil
}
