package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all signlink environment variables.
const EnvPrefix = "SIGNLINK_"

// Config holds all application configuration.
type Config struct {
	DetectionURL   string `yaml:"detection_url"`
	TranslationURL string `yaml:"translation_url"`
	GatewayURL     string `yaml:"gateway_url"`

	CameraID    int `yaml:"camera_id"`
	FrameRate   int `yaml:"frame_rate"`
	JPEGQuality int `yaml:"jpeg_quality"`

	MotionGate      bool    `yaml:"motion_gate"`
	MotionThreshold float64 `yaml:"motion_threshold"`

	Language       string `yaml:"language"`
	RequestTimeout string `yaml:"request_timeout"`

	ListenAddr string `yaml:"listen_addr"`
	StaticDir  string `yaml:"static_dir"`

	LogLevel       string `yaml:"log_level"`
	LogDevelopment bool   `yaml:"log_development"`
}

func defaults() Config {
	return Config{
		DetectionURL:    "ws://localhost:8001/ws/sign-detection",
		TranslationURL:  "http://localhost:8002",
		GatewayURL:      "http://localhost:8000",
		CameraID:        0,
		FrameRate:       10,
		JPEGQuality:     70,
		MotionThreshold: 1.0,
		Language:        "en",
		RequestTimeout:  "0s",
		ListenAddr:      "127.0.0.1:8090",
		StaticDir:       "web",
		LogLevel:        "info",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, and validates the result. It returns the
// config, any validation warnings, and an error if the file exists but cannot
// be read or parsed. Invalid values are replaced by their defaults.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// FrameInterval is the capture loop period derived from FrameRate.
func (c *Config) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return 100 * time.Millisecond
	}
	return time.Second / time.Duration(c.FrameRate)
}

// ParsedRequestTimeout returns RequestTimeout as a time.Duration. Zero means
// requests are not bounded.
func (c *Config) ParsedRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "DETECTION_URL"); v != "" {
		cfg.DetectionURL = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSLATION_URL"); v != "" {
		cfg.TranslationURL = v
	}
	if v := os.Getenv(EnvPrefix + "GATEWAY_URL"); v != "" {
		cfg.GatewayURL = v
	}
	if v, ok := envInt("CAMERA_ID"); ok && v >= 0 {
		cfg.CameraID = v
	}
	if v, ok := envInt("FRAME_RATE"); ok {
		cfg.FrameRate = v
	}
	if v, ok := envInt("JPEG_QUALITY"); ok {
		cfg.JPEGQuality = v
	}
	if v, ok := envBool("MOTION_GATE"); ok {
		cfg.MotionGate = v
	}
	if v := os.Getenv(EnvPrefix + "MOTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.MotionThreshold = f
		}
	}
	if v := os.Getenv(EnvPrefix + "LANGUAGE"); v != "" {
		cfg.Language = v
	}
	if v := os.Getenv(EnvPrefix + "REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, ok := envBool("LOG_DEVELOPMENT"); ok {
		cfg.LogDevelopment = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false
	}
	return b, true
}

func validate(cfg *Config) []string {
	var warnings []string
	def := defaults()

	if !strings.HasPrefix(cfg.DetectionURL, "ws://") && !strings.HasPrefix(cfg.DetectionURL, "wss://") {
		warnings = append(warnings, fmt.Sprintf("Invalid detection_url %q, using %s.", cfg.DetectionURL, def.DetectionURL))
		cfg.DetectionURL = def.DetectionURL
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > 60 {
		warnings = append(warnings, fmt.Sprintf("Invalid frame_rate %d, using %d.", cfg.FrameRate, def.FrameRate))
		cfg.FrameRate = def.FrameRate
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		warnings = append(warnings, fmt.Sprintf("Invalid jpeg_quality %d, using %d.", cfg.JPEGQuality, def.JPEGQuality))
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.MotionThreshold <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid motion_threshold %v, using %v.", cfg.MotionThreshold, def.MotionThreshold))
		cfg.MotionThreshold = def.MotionThreshold
	}
	if d, err := time.ParseDuration(cfg.RequestTimeout); err != nil || d < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid request_timeout %q, requests will not time out.", cfg.RequestTimeout))
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.ListenAddr == "" {
		warnings = append(warnings, "listen_addr is empty, the control server is disabled.")
	}

	return warnings
}
