package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Camera CameraConfig `yaml:"camera"`
	Stream StreamConfig `yaml:"stream"`
	Stats  StatsConfig  `yaml:"stats"`
	Media  MediaConfig  `yaml:"media"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
}

type LogConfig struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"` // debug, info, warn, error
}

type CameraConfig struct {
	IDs            []int         `yaml:"ids"` // probed in ascending order
	ShmDir         string        `yaml:"shm_dir"`
	ShmPrefix      string        `yaml:"shm_prefix"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	StaleAfter     time.Duration `yaml:"stale_after"` // 0 serves the last frame until the device goes away
}

type StreamConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	ErrorBackoff  time.Duration `yaml:"error_backoff"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`
	MaxRects      int           `yaml:"max_rects"`
}

type StatsConfig struct {
	Interval     time.Duration `yaml:"interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	QueueSize    int           `yaml:"queue_size"`
}

type MediaConfig struct {
	StaticDir       string `yaml:"static_dir"`
	CapturesDir     string `yaml:"captures_dir"`
	RecordingsDir   string `yaml:"recordings_dir"`
	TemplatePath    string `yaml:"template_path"`
	MaxCaptureBytes int64  `yaml:"max_capture_bytes"` // 0 keeps every capture
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 5 * time.Second,
			MetricsEnabled:  true,
		},
		Log: LogConfig{Level: "info"},
		Camera: CameraConfig{
			IDs:            []int{0, 1, 2},
			ShmDir:         "/dev/shm",
			ShmPrefix:      "video_frame",
			CaptureTimeout: 500 * time.Millisecond,
			StaleAfter:     2 * time.Second,
		},
		Stream: StreamConfig{
			FrameInterval: 100 * time.Millisecond,
			ErrorBackoff:  time.Second,
			JPEGQuality:   80,
			Width:         640,
			Height:        480,
			MaxRects:      5,
		},
		Stats: StatsConfig{
			Interval:     2 * time.Second,
			WriteTimeout: 10 * time.Second,
			QueueSize:    16,
		},
		Media: MediaConfig{
			StaticDir:     "static",
			CapturesDir:   "captures",
			RecordingsDir: "recordings",
			TemplatePath:  "templates/enhanced_dashboard.html",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if any), the
// given .env files (".env" when none) and finally the process environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"HOST":           &c.Server.Host,
		"LOG_LEVEL":      &c.Log.Level,
		"STATIC_DIR":     &c.Media.StaticDir,
		"CAPTURES_DIR":   &c.Media.CapturesDir,
		"RECORDINGS_DIR": &c.Media.RecordingsDir,
		"TEMPLATE_PATH":  &c.Media.TemplatePath,
		"SHM_DIR":        &c.Camera.ShmDir,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}

	bools := map[string]*bool{
		"DEBUG":           &c.Log.Debug,
		"METRICS_ENABLED": &c.Server.MetricsEnabled,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"FRAME_INTERVAL": &c.Stream.FrameInterval,
		"STATS_INTERVAL": &c.Stats.Interval,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup("CAMERA_IDS"); ok {
		ids, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("CAMERA_IDS: %w", err)
		}
		c.Camera.IDs = ids
	}
	return nil
}

func parseIDs(v string) ([]int, error) {
	parts := strings.Split(v, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Stream.FrameInterval <= 0:
		return fmt.Errorf("stream.frame_interval must be positive")
	case c.Stream.ErrorBackoff <= 0:
		return fmt.Errorf("stream.error_backoff must be positive")
	case c.Camera.CaptureTimeout <= 0:
		return fmt.Errorf("camera.capture_timeout must be positive")
	case c.Camera.StaleAfter < 0:
		return fmt.Errorf("camera.stale_after must not be negative")
	case c.Stats.Interval <= 0:
		return fmt.Errorf("stats.interval must be positive")
	case c.Stats.WriteTimeout <= 0:
		return fmt.Errorf("stats.write_timeout must be positive")
	case c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100:
		return fmt.Errorf("stream.jpeg_quality %d out of range 1..100", c.Stream.JPEGQuality)
	case c.Stream.Width <= 0 || c.Stream.Height <= 0:
		return fmt.Errorf("stream size %dx%d must be positive", c.Stream.Width, c.Stream.Height)
	case len(c.Camera.IDs) == 0:
		return fmt.Errorf("camera.ids must name at least one device")
	}
	for _, id := range c.Camera.IDs {
		if id < 0 {
			return fmt.Errorf("camera.ids contains negative id %d", id)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
