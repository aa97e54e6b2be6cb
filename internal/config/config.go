// Package config handles service configuration
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	AllowedOrigins []string

	Driver     string // cdp, sim, desktop
	CDPURL     string
	StitchMode string // scroll, css
	Platform   string // web, ios, android

	WaitBeforeScreenshots time.Duration
	StitchOverlap         int
	MatchTimeout          time.Duration
	DevicePixelRatio      float64 // 0 asks the driver
	RotateLandscape       bool
	CutHeader             int
	CutFooter             int
	CutLeft               int
	CutRight              int

	Comparator       string // phash, pixel, remote
	ComparatorAddr   string
	ComparatorListen string
	BaselineDir      string
	MaxHashDistance  int
	PixelTolerance   int

	DebugScreenshotsDir string
	SimPageHeight       int
}

func Load() *Config {
	return &Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8000"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:        getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		Driver:                strings.ToLower(getEnv("DRIVER", "cdp")),
		CDPURL:                getEnv("CDP_URL", "ws://localhost:9222/devtools/page"),
		StitchMode:            strings.ToLower(getEnv("STITCH_MODE", "scroll")),
		Platform:              strings.ToLower(getEnv("PLATFORM", "web")),
		WaitBeforeScreenshots: getEnvMillis("WAIT_BEFORE_SCREENSHOTS_MS", 100),
		StitchOverlap:         getEnvInt("STITCH_OVERLAP", 50),
		MatchTimeout:          getEnvMillis("MATCH_TIMEOUT_MS", 2000),
		DevicePixelRatio:      getEnvFloat("DEVICE_PIXEL_RATIO", 0),
		RotateLandscape:       getEnvBool("ROTATE_LANDSCAPE", true),
		CutHeader:             getEnvInt("CUT_HEADER", 0),
		CutFooter:             getEnvInt("CUT_FOOTER", 0),
		CutLeft:               getEnvInt("CUT_LEFT", 0),
		CutRight:              getEnvInt("CUT_RIGHT", 0),
		Comparator:            strings.ToLower(getEnv("COMPARATOR", "phash")),
		ComparatorAddr:        getEnv("COMPARATOR_ADDR", "localhost:50061"),
		ComparatorListen:      getEnv("COMPARATOR_LISTEN", ""),
		BaselineDir:           getEnv("BASELINE_DIR", "baselines"),
		MaxHashDistance:       getEnvInt("MAX_HASH_DISTANCE", 5),
		PixelTolerance:        getEnvInt("PIXEL_TOLERANCE", 2),
		DebugScreenshotsDir:   getEnv("DEBUG_SCREENSHOTS_DIR", ""),
		SimPageHeight:         getEnvInt("SIM_PAGE_HEIGHT", 3000),
	}
}

var allowed = map[string][]string{
	"DRIVER":      {"cdp", "sim", "desktop"},
	"STITCH_MODE": {"scroll", "css"},
	"PLATFORM":    {"web", "ios", "android"},
	"COMPARATOR":  {"phash", "pixel", "remote"},
	"LOG_LEVEL":   {"debug", "info", "warn", "error"},
}

// Validate rejects unknown enum values and negative amounts.
func (c *Config) Validate() error {
	enums := map[string]string{
		"DRIVER":      c.Driver,
		"STITCH_MODE": c.StitchMode,
		"PLATFORM":    c.Platform,
		"COMPARATOR":  c.Comparator,
		"LOG_LEVEL":   strings.ToLower(c.LogLevel),
	}
	for key, v := range enums {
		if !contains(allowed[key], v) {
			return apperrors.Newf(apperrors.ConfigInvalid, "%s=%q, want one of %s", key, v, strings.Join(allowed[key], ", "))
		}
	}

	amounts := map[string]int{
		"STITCH_OVERLAP":             c.StitchOverlap,
		"WAIT_BEFORE_SCREENSHOTS_MS": int(c.WaitBeforeScreenshots.Milliseconds()),
		"MATCH_TIMEOUT_MS":           int(c.MatchTimeout.Milliseconds()),
		"CUT_HEADER":                 c.CutHeader,
		"CUT_FOOTER":                 c.CutFooter,
		"CUT_LEFT":                   c.CutLeft,
		"CUT_RIGHT":                  c.CutRight,
		"MAX_HASH_DISTANCE":          c.MaxHashDistance,
		"PIXEL_TOLERANCE":            c.PixelTolerance,
	}
	for key, v := range amounts {
		if v < 0 {
			return apperrors.Newf(apperrors.ConfigInvalid, "%s must not be negative, got %d", key, v)
		}
	}
	if c.DevicePixelRatio < 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "DEVICE_PIXEL_RATIO must not be negative, got %g", c.DevicePixelRatio)
	}
	if c.Driver == "sim" && c.SimPageHeight <= 0 {
		return apperrors.New(apperrors.ConfigInvalid, "SIM_PAGE_HEIGHT must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvMillis(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Millisecond
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
