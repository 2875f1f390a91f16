// Package config loads and persists the application settings as a YAML
// file under the user configuration directory.
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"probe-station/internal/stage"
)

const (
	configDirName  = "probe-station"
	configFileName = "config.yaml"
	logFileName    = "probe-station.log"
)

// SerialConfig selects the controller connection.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	Device int `yaml:"device"`
}

// StageConfig carries the calibration and motion constants.
type StageConfig struct {
	FeedRate          float64 `yaml:"feed_rate"`
	StepMM            float64 `yaml:"calibration_step_mm"`
	PixelTarget       float64 `yaml:"calibration_pixel_target"`
	MaxSteps          int     `yaml:"calibration_max_steps"`
	VerifyThresholdPx float64 `yaml:"verify_threshold_px"`
}

// LoggingConfig controls log level and optional file output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the persisted settings container.
type Config struct {
	Serial          SerialConfig  `yaml:"serial"`
	Camera          CameraConfig  `yaml:"camera"`
	Stage           StageConfig   `yaml:"stage"`
	Logging         LoggingConfig `yaml:"logging"`
	FeedratePresets []float64     `yaml:"feedrate_presets"`
}

// Default returns the settings used when no file exists.
func Default() Config {
	params := stage.DefaultParams()
	return Config{
		Serial: SerialConfig{Baud: 115200},
		Camera: CameraConfig{Device: 0},
		Stage: StageConfig{
			FeedRate:          params.FeedRate,
			StepMM:            params.CalibrationStepMM,
			PixelTarget:       params.CalibrationPixelTarget,
			MaxSteps:          params.MaxCalibrationSteps,
			VerifyThresholdPx: params.VerifyThresholdPx,
		},
		Logging:         LoggingConfig{Level: "info"},
		FeedratePresets: []float64{30, 60, 90, 120, 180},
	}
}

// Path returns the settings file location, creating the directory if
// needed.
func Path() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	dir := filepath.Join(base, configDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating config directory")
	}
	return filepath.Join(dir, configFileName), nil
}

// Load reads the settings file, filling defaults for anything missing. A
// missing file is not an error; defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), errors.Wrap(err, "parsing config YAML")
	}
	cfg.fillDefaults()
	return cfg, nil
}

// Save writes the settings to disk.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshaling config YAML")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "writing config file")
	}
	return nil
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	if c.Camera.Device < 0 {
		c.Camera.Device = def.Camera.Device
	}
	if c.Stage.FeedRate <= 0 {
		c.Stage.FeedRate = def.Stage.FeedRate
	}
	if c.Stage.StepMM <= 0 {
		c.Stage.StepMM = def.Stage.StepMM
	}
	if c.Stage.PixelTarget <= 0 {
		c.Stage.PixelTarget = def.Stage.PixelTarget
	}
	if c.Stage.MaxSteps <= 0 {
		c.Stage.MaxSteps = def.Stage.MaxSteps
	}
	if c.Stage.VerifyThresholdPx <= 0 {
		c.Stage.VerifyThresholdPx = def.Stage.VerifyThresholdPx
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	presets := c.FeedratePresets[:0]
	for _, p := range c.FeedratePresets {
		if p > 0 {
			presets = append(presets, p)
		}
	}
	if len(presets) == 0 {
		presets = def.FeedratePresets
	}
	c.FeedratePresets = presets
}

// StageParams maps the settings onto the engine's parameter struct.
func (c Config) StageParams() stage.Params {
	return stage.Params{
		CalibrationPixelTarget: c.Stage.PixelTarget,
		VerifyThresholdPx:      c.Stage.VerifyThresholdPx,
		CalibrationStepMM:      c.Stage.StepMM,
		MaxCalibrationSteps:    c.Stage.MaxSteps,
		FeedRate:               c.Stage.FeedRate,
	}
}

// ApplyLogging configures logrus from the logging section. When a file is
// configured (or the default log file is resolvable) output goes to both
// stderr and the file.
func (c Config) ApplyLogging() {
	level, err := log.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	logPath := c.Logging.File
	if logPath == "" {
		if base, err := os.UserConfigDir(); err == nil {
			logPath = filepath.Join(base, configDirName, logFileName)
		}
	}
	if logPath == "" {
		return
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.WithError(err).Warn("could not open log file; logging to stderr only")
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
}
