package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Serial.Baud != def.Serial.Baud {
		t.Errorf("baud = %d, want %d", cfg.Serial.Baud, def.Serial.Baud)
	}
	if cfg.Stage.FeedRate != def.Stage.FeedRate {
		t.Errorf("feed rate = %v, want %v", cfg.Stage.FeedRate, def.Stage.FeedRate)
	}
	if len(cfg.FeedratePresets) == 0 {
		t.Error("no default feedrate presets")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Serial.Baud = 250000
	cfg.Camera.Device = 2
	cfg.Stage.FeedRate = 900
	cfg.Logging.Level = "debug"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Serial.Port != "/dev/ttyUSB0" || loaded.Serial.Baud != 250000 {
		t.Errorf("serial = %+v", loaded.Serial)
	}
	if loaded.Camera.Device != 2 {
		t.Errorf("camera device = %d", loaded.Camera.Device)
	}
	if loaded.Stage.FeedRate != 900 {
		t.Errorf("feed rate = %v", loaded.Stage.FeedRate)
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("log level = %q", loaded.Logging.Level)
	}
}

func TestLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "serial:\n  port: COM3\n"
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Port != "COM3" {
		t.Errorf("port = %q, want COM3", cfg.Serial.Port)
	}
	def := Default()
	if cfg.Serial.Baud != def.Serial.Baud {
		t.Errorf("baud not defaulted: %d", cfg.Serial.Baud)
	}
	if cfg.Stage.PixelTarget != def.Stage.PixelTarget {
		t.Errorf("pixel target not defaulted: %v", cfg.Stage.PixelTarget)
	}
	if cfg.Logging.Level != def.Logging.Level {
		t.Errorf("log level not defaulted: %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err == nil {
		t.Fatal("expected a parse error")
	}
	// Defaults are still usable despite the error.
	if cfg.Serial.Baud != Default().Serial.Baud {
		t.Errorf("defaults not returned on parse failure: %+v", cfg.Serial)
	}
}

func TestLoadDropsNonPositivePresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "feedrate_presets: [60, -5, 0, 120]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []float64{60, 120}
	if len(cfg.FeedratePresets) != len(want) {
		t.Fatalf("presets = %v, want %v", cfg.FeedratePresets, want)
	}
	for i, p := range want {
		if cfg.FeedratePresets[i] != p {
			t.Errorf("preset %d = %v, want %v", i, cfg.FeedratePresets[i], p)
		}
	}
}

func TestStageParams(t *testing.T) {
	cfg := Default()
	cfg.Stage.FeedRate = 450
	cfg.Stage.PixelTarget = 90
	params := cfg.StageParams()
	if params.FeedRate != 450 || params.CalibrationPixelTarget != 90 {
		t.Errorf("params = %+v", params)
	}
	if params.CalibrationStepMM != cfg.Stage.StepMM {
		t.Errorf("step = %v, want %v", params.CalibrationStepMM, cfg.Stage.StepMM)
	}
}
