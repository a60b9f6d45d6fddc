package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/facecrop/pkg/detection"
	"github.com/menta2k/facecrop/pkg/geometry"
	"github.com/menta2k/facecrop/pkg/processing"
	"github.com/menta2k/facecrop/pkg/types"
)

// Config holds the application configuration. It is filled from defaults,
// an optional file and command line flags, and is not validated until
// Validate or Resolve is called.
type Config struct {
	Input   string            `json:"input" yaml:"input"`
	Output  string            `json:"output" yaml:"output"`
	Ratio   types.AspectRatio `json:"ratio" yaml:"ratio"`
	Policy  string            `json:"policy" yaml:"policy"`
	Workers int               `json:"workers" yaml:"workers"`
	Debug   bool              `json:"debug" yaml:"debug"`

	Detector DetectorConfig `json:"detector" yaml:"detector"`
	Encoding EncodingConfig `json:"encoding" yaml:"encoding"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Server   ServerConfig   `json:"server" yaml:"server"`
}

// DetectorConfig selects and tunes the face detector
type DetectorConfig struct {
	Backend string           `json:"backend" yaml:"backend"`
	Model   string           `json:"model" yaml:"model"` // pigo cascade file, empty for the embedded default
	Tuning  detection.Tuning `json:"tuning" yaml:"tuning"`

	VisionURL     string  `json:"vision_url" yaml:"vision_url"`
	VisionModel   string  `json:"vision_model" yaml:"vision_model"`
	MaxDim        int     `json:"max_dim" yaml:"max_dim"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	CheckVision   bool    `json:"check_vision" yaml:"check_vision"` // query the model once before accepting the backend
}

// EncodingConfig holds configuration for output encoding
type EncodingConfig struct {
	Format   string `json:"format" yaml:"format"` // empty keeps the source format
	Quality  int    `json:"quality" yaml:"quality"`
	Lossless bool   `json:"lossless" yaml:"lossless"`
}

// LogConfig holds configuration for logging
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file" yaml:"file"`
	JSON  bool   `json:"json" yaml:"json"`
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	BodyLimitMB int    `json:"body_limit_mb" yaml:"body_limit_mb"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Ratio:  types.AspectRatio{Width: 1, Height: 1},
		Policy: geometry.PolicyHeadBias.String(),
		Detector: DetectorConfig{
			Backend:       string(detection.BackendPigo),
			Tuning:        detection.DefaultTuning(),
			MaxDim:        detection.DefaultMaxDim,
			MinConfidence: detection.DefaultMinConfidence,
		},
		Encoding: EncodingConfig{
			Quality: processing.DefaultQuality,
		},
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr:        ":1323",
			BodyLimitMB: 32,
		},
	}
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the
// defaults. YAML is chosen by the .yaml or .yml extension.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the values that do not depend on the filesystem. Errors
// wrap types.ErrConfiguration.
func (c *Config) Validate() error {
	if !c.Ratio.Valid() {
		return fmt.Errorf("%w: width and height must be positive, got %s", types.ErrConfiguration, c.Ratio)
	}

	if _, err := geometry.ParsePolicy(c.Policy); err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}

	backend, err := detection.ParseBackend(c.Detector.Backend)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}

	if backend == detection.BackendPigo {
		if err := c.Detector.Tuning.Validate(); err != nil {
			return fmt.Errorf("%w: detector.tuning: %v", types.ErrConfiguration, err)
		}
	}

	if (backend == detection.BackendOllama || backend == detection.BackendLlamaCpp) && c.Detector.VisionModel == "" {
		return fmt.Errorf("%w: detector.vision_model is required for the %s detector", types.ErrConfiguration, backend)
	}

	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("%w: detector.min_confidence must be between 0 and 1", types.ErrConfiguration)
	}

	if c.Encoding.Format != "" {
		if _, err := processing.NormalizeFormat(c.Encoding.Format); err != nil {
			return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
	}

	if c.Encoding.Quality < 0 || c.Encoding.Quality > 100 {
		return fmt.Errorf("%w: encoding.quality must be between 1 and 100", types.ErrConfiguration)
	}

	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", types.ErrConfiguration)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./facecrop.yaml"
	}
	return filepath.Join(home, ".config", "facecrop", "config.yaml")
}
