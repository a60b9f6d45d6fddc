package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/menta2k/facecrop/internal/config"
	"github.com/menta2k/facecrop/internal/logging"
	"github.com/menta2k/facecrop/internal/utils"
	"github.com/menta2k/facecrop/pkg/batch"
	"github.com/menta2k/facecrop/pkg/geometry"
	"github.com/menta2k/facecrop/pkg/server"
	"github.com/menta2k/facecrop/pkg/types"
)

// Exit codes.
const (
	exitOK           = 0
	exitFailure      = 1
	exitConfig       = 2
	exitDetectorInit = 3
)

const (
	flagInput       = "input"
	flagOutput      = "output"
	flagModel       = "model"
	flagWidth       = "width"
	flagHeight      = "height"
	flagPolicy      = "policy"
	flagDetector    = "detector"
	flagVisionURL   = "vision-url"
	flagVisionModel = "vision-model"
	flagCheckVision = "check-vision"
	flagWorkers     = "workers"
	flagFormat      = "format"
	flagQuality     = "quality"
	flagLossless    = "lossless"
	flagDebug       = "debug"
	flagConfig      = "config"
	flagLogLevel    = "log-level"
	flagLogFile     = "log-file"
	flagLogJSON     = "log-json"
	flagAddr        = "addr"
)

func newApp() *cli.App {
	return &cli.App{
		Name:      "facecrop",
		Usage:     "crop images to an aspect ratio while keeping faces in frame",
		ArgsUsage: "[<input> <output> [<model> [<width> <height>]]]",
		Version:   version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagInput, Aliases: []string{"i"}, Usage: "input image or directory of jpg/jpeg/png images"},
			&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "output directory, or output file when the input is a single image"},
			&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Usage: "pigo facefinder cascade file (default: embedded model)"},
			&cli.Float64Flag{Name: flagWidth, Usage: "target aspect ratio width", Value: 1},
			&cli.Float64Flag{Name: flagHeight, Usage: "target aspect ratio height", Value: 1},
			&cli.StringFlag{Name: flagPolicy, Usage: "crop offset policy: head or center", Value: "head"},
			&cli.StringFlag{Name: flagDetector, Usage: "face detector: pigo, ollama, llamacpp, saliency or none", Value: "pigo"},
			&cli.StringFlag{Name: flagVisionURL, Usage: "vision model server URL for the ollama and llamacpp detectors"},
			&cli.StringFlag{Name: flagVisionModel, Usage: "vision model name for the ollama and llamacpp detectors"},
			&cli.BoolFlag{Name: flagCheckVision, Usage: "query the vision model once at startup and fail if it cannot see images"},
			&cli.IntFlag{Name: flagWorkers, Usage: "images processed concurrently (0 = number of CPUs)"},
			&cli.StringFlag{Name: flagFormat, Usage: "force the output format: jpg, png or webp"},
			&cli.IntFlag{Name: flagQuality, Usage: "JPEG/WebP output quality (1-100)", Value: 95},
			&cli.BoolFlag{Name: flagLossless, Usage: "lossless WebP output"},
			&cli.BoolFlag{Name: flagDebug, Usage: "write <name>_debug.png overlays with faces and crop window"},
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "JSON or YAML configuration file"},
			&cli.StringFlag{Name: flagLogLevel, Usage: "log level: debug, info, warn or error", Value: "info"},
			&cli.StringFlag{Name: flagLogFile, Usage: "also write logs to this file, rotated"},
			&cli.BoolFlag{Name: flagLogJSON, Usage: "log in JSON"},
		},
		Action: cropAction,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve POST /crop over HTTP; global flags select the detector and defaults",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagAddr, Usage: "listen address", Value: ":1323"},
				},
				Action: serveAction,
			},
		},
		OnUsageError: func(_ *cli.Context, err error, _ bool) error {
			return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// exitCode maps an error returned by the app to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, types.ErrConfiguration):
		return exitConfig
	case errors.Is(err, types.ErrDetectorInit):
		return exitDetectorInit
	default:
		return exitFailure
	}
}

// buildConfig layers defaults, the config file, flags and positional
// arguments, in that order.
func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()

	path := c.String(flagConfig)
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		cfg = loaded
	}

	if c.IsSet(flagInput) {
		cfg.Input = c.String(flagInput)
	}
	if c.IsSet(flagOutput) {
		cfg.Output = c.String(flagOutput)
	}
	if c.IsSet(flagModel) {
		cfg.Detector.Model = c.String(flagModel)
	}
	if c.IsSet(flagWidth) {
		cfg.Ratio.Width = c.Float64(flagWidth)
	}
	if c.IsSet(flagHeight) {
		cfg.Ratio.Height = c.Float64(flagHeight)
	}
	if c.IsSet(flagPolicy) {
		cfg.Policy = c.String(flagPolicy)
	}
	if c.IsSet(flagDetector) {
		cfg.Detector.Backend = c.String(flagDetector)
	}
	if c.IsSet(flagVisionURL) {
		cfg.Detector.VisionURL = c.String(flagVisionURL)
	}
	if c.IsSet(flagVisionModel) {
		cfg.Detector.VisionModel = c.String(flagVisionModel)
	}
	if c.IsSet(flagCheckVision) {
		cfg.Detector.CheckVision = c.Bool(flagCheckVision)
	}
	if c.IsSet(flagWorkers) {
		cfg.Workers = c.Int(flagWorkers)
	}
	if c.IsSet(flagFormat) {
		cfg.Encoding.Format = c.String(flagFormat)
	}
	if c.IsSet(flagQuality) {
		cfg.Encoding.Quality = c.Int(flagQuality)
	}
	if c.IsSet(flagLossless) {
		cfg.Encoding.Lossless = c.Bool(flagLossless)
	}
	if c.IsSet(flagDebug) {
		cfg.Debug = c.Bool(flagDebug)
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.IsSet(flagLogFile) {
		cfg.Log.File = c.String(flagLogFile)
	}
	if c.IsSet(flagLogJSON) {
		cfg.Log.JSON = c.Bool(flagLogJSON)
	}

	if err := applyArgs(cfg, c.Args().Slice()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyArgs reads the positional form: input output [model [width height]].
func applyArgs(cfg *config.Config, args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 2, 3, 5:
	default:
		return fmt.Errorf("%w: expected <input> <output> [<model> [<width> <height>]], got %d arguments", types.ErrConfiguration, len(args))
	}

	cfg.Input, cfg.Output = args[0], args[1]
	if len(args) >= 3 {
		cfg.Detector.Model = args[2]
	}
	if len(args) == 5 {
		w, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("%w: could not read width: %v", types.ErrConfiguration, err)
		}
		h, err := strconv.ParseFloat(args[4], 64)
		if err != nil {
			return fmt.Errorf("%w: could not read height: %v", types.ErrConfiguration, err)
		}
		cfg.Ratio = types.AspectRatio{Width: w, Height: h}
	}
	return nil
}

func newLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	return logger, nil
}

func cropAction(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if cfg.Input == "" && cfg.Output == "" {
		_ = cli.ShowAppHelp(c)
		return fmt.Errorf("%w: no input and output given", types.ErrConfiguration)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := config.Resolve(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runner, err := batch.NewRunner(job, logger)
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx)
	for _, f := range report.Failures {
		fmt.Fprintf(c.App.ErrWriter, "failed: %v\n", f)
	}
	fmt.Fprintf(c.App.Writer, "processed %d images: %d succeeded, %d failed, %d skipped in %s\n",
		report.Total, report.Succeeded, report.Failed, report.Skipped, report.Duration.Round(time.Millisecond))
	if err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return nil
}

func serveAction(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet(flagAddr) {
		cfg.Server.Addr = c.String(flagAddr)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	det, err := config.BuildDetector(ctx, cfg, logger)
	if err != nil {
		return err
	}
	policy, _ := geometry.ParsePolicy(cfg.Policy)

	srv := server.New(det, server.Options{
		Ratio:     cfg.Ratio,
		Policy:    policy,
		Quality:   cfg.Encoding.Quality,
		Lossless:  cfg.Encoding.Lossless,
		BodyLimit: fmt.Sprintf("%dM", cfg.Server.BodyLimitMB),
	}, logger)

	return srv.Run(ctx, cfg.Server.Addr)
}
