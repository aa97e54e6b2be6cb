package config

import (
	"os"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
)

var envVars = []string{
	"HTTP_ADDR", "LOG_LEVEL", "ALLOWED_ORIGINS", "DRIVER", "CDP_URL", "STITCH_MODE",
	"PLATFORM", "WAIT_BEFORE_SCREENSHOTS_MS", "STITCH_OVERLAP", "MATCH_TIMEOUT_MS",
	"DEVICE_PIXEL_RATIO", "ROTATE_LANDSCAPE", "CUT_HEADER", "CUT_FOOTER", "CUT_LEFT",
	"CUT_RIGHT", "COMPARATOR", "COMPARATOR_ADDR", "COMPARATOR_LISTEN", "BASELINE_DIR",
	"MAX_HASH_DISTANCE", "PIXEL_TOLERANCE", "DEBUG_SCREENSHOTS_DIR", "SIM_PAGE_HEIGHT",
}

func TestLoad(t *testing.T) {
	for _, v := range envVars {
		t.Setenv(v, "")
	}

	cfg := Load()

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.Driver != "cdp" || cfg.StitchMode != "scroll" || cfg.Platform != "web" {
		t.Errorf("driver/mode/platform = %q/%q/%q", cfg.Driver, cfg.StitchMode, cfg.Platform)
	}
	if cfg.WaitBeforeScreenshots != 100*time.Millisecond {
		t.Errorf("WaitBeforeScreenshots = %v, want 100ms", cfg.WaitBeforeScreenshots)
	}
	if cfg.StitchOverlap != 50 {
		t.Errorf("StitchOverlap = %d, want 50", cfg.StitchOverlap)
	}
	if cfg.MatchTimeout != 2*time.Second {
		t.Errorf("MatchTimeout = %v, want 2s", cfg.MatchTimeout)
	}
	if cfg.Comparator != "phash" || cfg.MaxHashDistance != 5 || cfg.PixelTolerance != 2 {
		t.Errorf("comparator = %q (%d, %d)", cfg.Comparator, cfg.MaxHashDistance, cfg.PixelTolerance)
	}
	if !cfg.RotateLandscape {
		t.Error("RotateLandscape should default to true")
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("DRIVER", "SIM")
	t.Setenv("STITCH_MODE", "css")
	t.Setenv("PLATFORM", "android")
	t.Setenv("WAIT_BEFORE_SCREENSHOTS_MS", "0")
	t.Setenv("STITCH_OVERLAP", "12")
	t.Setenv("DEVICE_PIXEL_RATIO", "2.5")
	t.Setenv("ROTATE_LANDSCAPE", "false")
	t.Setenv("CUT_HEADER", "20")
	t.Setenv("COMPARATOR", "remote")
	t.Setenv("ALLOWED_ORIGINS", "example.com, localhost:3000")

	cfg := Load()

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9000")
	}
	if cfg.Driver != "sim" {
		t.Errorf("Driver = %q, want lower-cased sim", cfg.Driver)
	}
	if cfg.StitchMode != "css" || cfg.Platform != "android" {
		t.Errorf("mode/platform = %q/%q", cfg.StitchMode, cfg.Platform)
	}
	if cfg.WaitBeforeScreenshots != 0 || cfg.StitchOverlap != 12 {
		t.Errorf("wait/overlap = %v/%d", cfg.WaitBeforeScreenshots, cfg.StitchOverlap)
	}
	if cfg.DevicePixelRatio != 2.5 {
		t.Errorf("DevicePixelRatio = %f, want 2.5", cfg.DevicePixelRatio)
	}
	if cfg.RotateLandscape {
		t.Error("RotateLandscape should be false")
	}
	if cfg.CutHeader != 20 || cfg.Comparator != "remote" {
		t.Errorf("cut/comparator = %d/%q", cfg.CutHeader, cfg.Comparator)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "localhost:3000" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		for _, v := range envVars {
			os.Unsetenv(v)
		}
		return Load()
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver = "selenium" }},
		{"unknown stitch mode", func(c *Config) { c.StitchMode = "zoom" }},
		{"unknown platform", func(c *Config) { c.Platform = "tizen" }},
		{"unknown comparator", func(c *Config) { c.Comparator = "eyeball" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
		{"negative overlap", func(c *Config) { c.StitchOverlap = -1 }},
		{"negative wait", func(c *Config) { c.WaitBeforeScreenshots = -time.Millisecond }},
		{"negative cut", func(c *Config) { c.CutFooter = -3 }},
		{"negative pixel ratio", func(c *Config) { c.DevicePixelRatio = -1 }},
		{"empty sim page", func(c *Config) { c.Driver = "sim"; c.SimPageHeight = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !apperrors.IsCode(err, apperrors.ConfigInvalid) {
				t.Errorf("Validate() = %v, want CONFIG_INVALID", err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]string{"debug": "DEBUG", "WARN": "WARN", "bogus": "INFO", "": "INFO"}
	for in, want := range tests {
		if got := (&Config{LogLevel: in}).SlogLevel().String(); got != want {
			t.Errorf("SlogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if v := getEnv("TEST_STRING", "default"); v != "hello" {
		t.Errorf("getEnv = %q, want %q", v, "hello")
	}
	if v := getEnv("NONEXISTENT", "default"); v != "default" {
		t.Errorf("getEnv = %q, want %q", v, "default")
	}

	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_INVALID", "not-a-number")
	if v := getEnvInt("TEST_INT", 0); v != 42 {
		t.Errorf("getEnvInt = %d, want %d", v, 42)
	}
	if v := getEnvInt("TEST_INT_INVALID", 100); v != 100 {
		t.Errorf("getEnvInt with invalid = %d, want %d", v, 100)
	}
	if v := getEnvMillis("TEST_INT", 0); v != 42*time.Millisecond {
		t.Errorf("getEnvMillis = %v, want 42ms", v)
	}

	t.Setenv("TEST_FLOAT", "3.14")
	if v := getEnvFloat("TEST_FLOAT", 0.0); v != 3.14 {
		t.Errorf("getEnvFloat = %f, want %f", v, 3.14)
	}

	t.Setenv("TEST_BOOL_ONE", "1")
	t.Setenv("TEST_BOOL_FALSE", "false")
	if !getEnvBool("TEST_BOOL_ONE", false) {
		t.Error("getEnvBool should return true for '1'")
	}
	if getEnvBool("TEST_BOOL_FALSE", true) {
		t.Error("getEnvBool should return false for 'false'")
	}

	t.Setenv("TEST_LIST", " a, ,b ")
	if v := getEnvList("TEST_LIST", nil); len(v) != 2 || v[0] != "a" || v[1] != "b" {
		t.Errorf("getEnvList = %v", v)
	}
}
