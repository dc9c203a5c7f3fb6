// Package config loads and validates the crowdwatch configuration.
//
// Configuration is read once at process start from a TOML file, with a small
// set of deploy-time overrides taken from the environment. Everything here is
// read-only at runtime; the two operator-tunable values (overlay drawing and
// the detection confidence threshold) are owned by the pipeline behind
// atomics and only seeded from this package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full runtime configuration.
type Config struct {
	HTTP        HTTPConfig        `toml:"http"`
	Camera      CameraConfig      `toml:"camera"`
	Model       ModelConfig       `toml:"model"`
	Stats       StatsConfig       `toml:"stats"`
	Persistence PersistenceConfig `toml:"persistence"`
	Input       InputConfig       `toml:"input"`
	Upload      UploadConfig      `toml:"upload"`
}

// HTTPConfig holds listener addresses and stream tuning.
type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	MetricsAddr    string   `toml:"metrics_addr"`
	StreamInterval duration `toml:"stream_interval"`
	UpdateInterval duration `toml:"update_interval"` // websocket stats push cadence
}

// CameraConfig describes the capture device.
type CameraConfig struct {
	DeviceID    int `toml:"device_id"`
	Width       int `toml:"width"`
	Height      int `toml:"height"`
	FPS         int `toml:"fps"`
	JPEGQuality int `toml:"jpeg_quality"`
}

// ModelConfig describes the detector backend.
type ModelConfig struct {
	Backend             string  `toml:"backend"` // "dnn" or "onnx"
	ModelPath           string  `toml:"model_path"`
	ConfigPath          string  `toml:"config_path"` // dnn only
	OnnxLibPath         string  `toml:"onnx_lib_path"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	DetectionInterval   int     `toml:"detection_interval"` // run the detector every Nth frame
	Capacity            int     `toml:"capacity"`           // people the area holds at density 1.0
}

// LevelBucket is one row of the crowd-level classification table. A zero
// Below marks the final unbounded bucket.
type LevelBucket struct {
	Below     int    `toml:"below"`
	Level     string `toml:"level"`
	WaitRange string `toml:"wait_range"`
}

// StatsConfig tunes the rolling window and classification table.
type StatsConfig struct {
	HistoryMaxLen int           `toml:"history_maxlen"`
	Levels        []LevelBucket `toml:"levels"`
}

// PersistenceConfig tunes the durable record writer.
type PersistenceConfig struct {
	DBPath      string   `toml:"db_path"`
	Interval    duration `toml:"interval"`
	WindowStart string   `toml:"window_start"` // "07:00"
	WindowEnd   string   `toml:"window_end"`   // "23:55"
}

// InputConfig describes the two button/LED channels.
type InputConfig struct {
	Enabled        bool     `toml:"enabled"`
	SaveButtonPin  string   `toml:"save_button_pin"`
	SaveLEDPin     string   `toml:"save_led_pin"`
	DrawButtonPin  string   `toml:"draw_button_pin"`
	DrawLEDPin     string   `toml:"draw_led_pin"`
	ActiveLow      bool     `toml:"active_low"`
	DebounceWindow duration `toml:"debounce_window"`
	PollInterval   duration `toml:"poll_interval"`
	BlinkCount     int      `toml:"blink_count"`
	BlinkInterval  duration `toml:"blink_interval"`
}

// UploadConfig limits the image upload endpoint.
type UploadConfig struct {
	Dir          string `toml:"dir"`
	MaxSizeBytes int64  `toml:"max_size_bytes"`
}

// duration wraps time.Duration for TOML decoding ("500ms", "1m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration, aligned with the tuned
// settings the monitor ships with.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:           ":8080",
			MetricsAddr:    ":9090",
			StreamInterval: duration{33 * time.Millisecond},
			UpdateInterval: duration{2 * time.Second},
		},
		Camera: CameraConfig{
			DeviceID:    0,
			Width:       640,
			Height:      480,
			FPS:         30,
			JPEGQuality: 70,
		},
		Model: ModelConfig{
			Backend:             "dnn",
			ConfidenceThreshold: 0.35,
			DetectionInterval:   3,
			Capacity:            100,
		},
		Stats: StatsConfig{
			HistoryMaxLen: 100,
			Levels: []LevelBucket{
				{Below: 10, Level: "Low", WaitRange: "2-5 min"},
				{Below: 20, Level: "Medium", WaitRange: "5-10 min"},
				{Below: 30, Level: "High", WaitRange: "10-30 min"},
				{Below: 0, Level: "VeryHigh", WaitRange: "30+ min"},
			},
		},
		Persistence: PersistenceConfig{
			DBPath:      "crowd_data.db",
			Interval:    duration{time.Minute},
			WindowStart: "07:00",
			WindowEnd:   "23:55",
		},
		Input: InputConfig{
			Enabled:        false,
			SaveButtonPin:  "GPIO17",
			SaveLEDPin:     "GPIO27",
			DrawButtonPin:  "GPIO22",
			DrawLEDPin:     "GPIO23",
			ActiveLow:      true,
			DebounceWindow: duration{30 * time.Millisecond},
			PollInterval:   duration{5 * time.Millisecond},
			BlinkCount:     3,
			BlinkInterval:  duration{100 * time.Millisecond},
		},
		Upload: UploadConfig{
			Dir:          os.TempDir(),
			MaxSizeBytes: 16 << 20,
		},
	}
}

// Load reads the TOML file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = getEnv("CROWDWATCH_ADDR", c.HTTP.Addr)
	c.HTTP.MetricsAddr = getEnv("CROWDWATCH_METRICS_ADDR", c.HTTP.MetricsAddr)
	c.Persistence.DBPath = getEnv("CROWDWATCH_DB", c.Persistence.DBPath)
	c.Model.ModelPath = getEnv("CROWDWATCH_MODEL", c.Model.ModelPath)
	c.Model.ConfigPath = getEnv("CROWDWATCH_MODEL_CONFIG", c.Model.ConfigPath)
	c.Model.OnnxLibPath = getEnv("CROWDWATCH_ONNX_LIB", c.Model.OnnxLibPath)
	c.Camera.DeviceID = getEnvAsInt("CROWDWATCH_CAMERA", c.Camera.DeviceID)
	c.Upload.Dir = getEnv("CROWDWATCH_UPLOAD_DIR", c.Upload.Dir)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Model.DetectionInterval < 1 {
		return fmt.Errorf("model.detection_interval must be >= 1, got %d", c.Model.DetectionInterval)
	}
	if c.Model.ConfidenceThreshold < 0.1 || c.Model.ConfidenceThreshold > 0.9 {
		return fmt.Errorf("model.confidence_threshold must be in [0.1, 0.9], got %g", c.Model.ConfidenceThreshold)
	}
	if c.Model.Capacity < 1 {
		return fmt.Errorf("model.capacity must be >= 1, got %d", c.Model.Capacity)
	}
	switch c.Model.Backend {
	case "dnn", "onnx":
	default:
		return fmt.Errorf("model.backend must be \"dnn\" or \"onnx\", got %q", c.Model.Backend)
	}
	if c.Stats.HistoryMaxLen < 1 {
		return fmt.Errorf("stats.history_maxlen must be >= 1, got %d", c.Stats.HistoryMaxLen)
	}
	if err := validateLevels(c.Stats.Levels); err != nil {
		return err
	}
	if _, err := ParseClock(c.Persistence.WindowStart); err != nil {
		return fmt.Errorf("persistence.window_start: %w", err)
	}
	if _, err := ParseClock(c.Persistence.WindowEnd); err != nil {
		return fmt.Errorf("persistence.window_end: %w", err)
	}
	if c.Persistence.Interval.Duration <= 0 {
		return fmt.Errorf("persistence.interval must be positive, got %v", c.Persistence.Interval.Duration)
	}
	if c.Input.DebounceWindow.Duration <= 0 {
		return fmt.Errorf("input.debounce_window must be positive, got %v", c.Input.DebounceWindow.Duration)
	}
	return nil
}

// validateLevels enforces a strictly increasing threshold table that ends
// with exactly one unbounded bucket, so Classify is total with no gaps or
// overlaps.
func validateLevels(levels []LevelBucket) error {
	if len(levels) == 0 {
		return fmt.Errorf("stats.levels must not be empty")
	}
	last := len(levels) - 1
	prev := 0
	for i, b := range levels {
		if b.Level == "" {
			return fmt.Errorf("stats.levels[%d]: level name must not be empty", i)
		}
		if i == last {
			if b.Below != 0 {
				return fmt.Errorf("stats.levels: final bucket must be unbounded (below = 0)")
			}
			continue
		}
		if b.Below <= 0 {
			return fmt.Errorf("stats.levels[%d]: below must be positive", i)
		}
		if b.Below <= prev {
			return fmt.Errorf("stats.levels[%d]: thresholds must be strictly increasing (%d after %d)", i, b.Below, prev)
		}
		prev = b.Below
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock string into minutes since
// midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
