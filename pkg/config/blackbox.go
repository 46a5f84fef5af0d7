// Package config loads the TOML configuration shared by bbtool and bbsim.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"
)

const DefaultConfigPath = "blackbox.toml"

// Endpoint kinds for [source] and [sink].
const (
	KindTCP    = "tcp"
	KindSerial = "serial"
	KindFile   = "file"
)

type Config struct {
	Recorder   RecorderConfig `toml:"recorder"`
	Source     SourceConfig   `toml:"source"`
	Sink       SinkConfig     `toml:"sink"`
	Foxglove   FoxgloveConfig `toml:"foxglove"`
	Metrics    MetricsConfig  `toml:"metrics"`
	Log        LogConfig      `toml:"log"`
	configPath string         `toml:"-"`
}

type RecorderConfig struct {
	RateHz       int    `toml:"rate_hz"`
	WriteRetries int    `toml:"write_retries"`
	JSONL        string `toml:"jsonl,omitempty"`
}

// SourceConfig is where bbtool reads a framed stream from.
type SourceConfig struct {
	Kind      string `toml:"kind"`
	Addr      string `toml:"addr"`
	Device    string `toml:"device,omitempty"`
	Baud      int    `toml:"baud"`
	Path      string `toml:"path,omitempty"`
	Reconnect string `toml:"reconnect"`
	Buf       int    `toml:"buf"`
	ReaderBuf int    `toml:"reader_buf"`
}

// SinkConfig is where bbsim writes its framed stream. For tcp, Addr is the
// listen address readers dial.
type SinkConfig struct {
	Kind       string `toml:"kind"`
	Addr       string `toml:"addr"`
	Device     string `toml:"device,omitempty"`
	Baud       int    `toml:"baud"`
	Path       string `toml:"path,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type FoxgloveConfig struct {
	WSAddr        string `toml:"ws_addr"`
	SnapshotTopic string `toml:"snapshot_topic"`
	AttitudeTopic string `toml:"attitude_topic"`
	BatteryTopic  string `toml:"battery_topic"`
	ParentFrame   string `toml:"parent_frame"`
	FrameID       string `toml:"frame_id"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type LogConfig struct {
	Level    string `toml:"level"`
	Encoding string `toml:"encoding"`
}

func Default() Config {
	return Config{
		Recorder: RecorderConfig{
			RateHz:       50,
			WriteRetries: 0,
		},
		Source: SourceConfig{
			Kind:      KindTCP,
			Addr:      "127.0.0.1:19021",
			Baud:      115200,
			Reconnect: "1s",
			Buf:       256,
			ReaderBuf: 64 * 1024,
		},
		Sink: SinkConfig{
			Kind:       KindTCP,
			Addr:       "127.0.0.1:19021",
			Baud:       115200,
			MaxSizeMB:  16,
			MaxBackups: 4,
		},
		Foxglove: FoxgloveConfig{
			WSAddr:        "127.0.0.1:8765",
			SnapshotTopic: "/blackbox/snapshot",
			AttitudeTopic: "/tf",
			BatteryTopic:  "/blackbox/battery",
			ParentFrame:   "world",
			FrameID:       "base_link",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path, filling unset values from Default. A missing file is
// not an error: the defaults are returned and exists is false.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

// ReconnectInterval returns the parsed [source] reconnect interval.
func (cfg *Config) ReconnectInterval() time.Duration {
	d, err := time.ParseDuration(cfg.Source.Reconnect)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

func (cfg *Config) Validate() error {
	if cfg.Recorder.RateHz <= 0 || cfg.Recorder.RateHz > 1000 {
		return fmt.Errorf("recorder.rate_hz out of range: %d", cfg.Recorder.RateHz)
	}
	if cfg.Recorder.WriteRetries < 0 {
		return fmt.Errorf("recorder.write_retries must not be negative: %d", cfg.Recorder.WriteRetries)
	}

	if err := validateEndpoint("source", cfg.Source.Kind, cfg.Source.Addr, cfg.Source.Device, cfg.Source.Path, cfg.Source.Baud); err != nil {
		return err
	}
	if _, err := time.ParseDuration(cfg.Source.Reconnect); err != nil {
		return fmt.Errorf("source.reconnect: %w", err)
	}
	if err := validateEndpoint("sink", cfg.Sink.Kind, cfg.Sink.Addr, cfg.Sink.Device, cfg.Sink.Path, cfg.Sink.Baud); err != nil {
		return err
	}
	if cfg.Sink.MaxBackups < 0 {
		return fmt.Errorf("sink.max_backups must not be negative: %d", cfg.Sink.MaxBackups)
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Encoding {
	case "console", "json":
	default:
		return fmt.Errorf("log.encoding must be console or json, got %q", cfg.Log.Encoding)
	}
	return nil
}

func validateEndpoint(section, kind, addr, device, path string, baud int) error {
	switch kind {
	case KindTCP:
		if addr == "" {
			return fmt.Errorf("%s.addr is required for tcp", section)
		}
	case KindSerial:
		if device == "" {
			return fmt.Errorf("%s.device is required for serial", section)
		}
		if baud <= 0 {
			return fmt.Errorf("%s.baud must be positive: %d", section, baud)
		}
	case KindFile:
		if path == "" {
			return fmt.Errorf("%s.path is required for file", section)
		}
	default:
		return fmt.Errorf("%s.kind must be tcp, serial or file, got %q", section, kind)
	}
	return nil
}

func (cfg *Config) normalize(path string) {
	def := Default()

	if cfg.Recorder.RateHz == 0 {
		cfg.Recorder.RateHz = def.Recorder.RateHz
	}

	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = def.Source.Kind
	}
	if cfg.Source.Addr == "" {
		cfg.Source.Addr = def.Source.Addr
	}
	if cfg.Source.Baud == 0 {
		cfg.Source.Baud = def.Source.Baud
	}
	if cfg.Source.Reconnect == "" {
		cfg.Source.Reconnect = def.Source.Reconnect
	}
	if cfg.Source.Buf <= 0 {
		cfg.Source.Buf = def.Source.Buf
	}
	if cfg.Source.ReaderBuf <= 0 {
		cfg.Source.ReaderBuf = def.Source.ReaderBuf
	}

	cfg.Sink.Kind = strings.ToLower(strings.TrimSpace(cfg.Sink.Kind))
	if cfg.Sink.Kind == "" {
		cfg.Sink.Kind = def.Sink.Kind
	}
	if cfg.Sink.Addr == "" {
		cfg.Sink.Addr = def.Sink.Addr
	}
	if cfg.Sink.Baud == 0 {
		cfg.Sink.Baud = def.Sink.Baud
	}
	if cfg.Sink.MaxSizeMB <= 0 {
		cfg.Sink.MaxSizeMB = def.Sink.MaxSizeMB
	}

	if cfg.Foxglove.WSAddr == "" {
		cfg.Foxglove.WSAddr = def.Foxglove.WSAddr
	}
	if cfg.Foxglove.SnapshotTopic == "" {
		cfg.Foxglove.SnapshotTopic = def.Foxglove.SnapshotTopic
	}
	if cfg.Foxglove.AttitudeTopic == "" {
		cfg.Foxglove.AttitudeTopic = def.Foxglove.AttitudeTopic
	}
	if cfg.Foxglove.BatteryTopic == "" {
		cfg.Foxglove.BatteryTopic = def.Foxglove.BatteryTopic
	}
	if cfg.Foxglove.ParentFrame == "" {
		cfg.Foxglove.ParentFrame = def.Foxglove.ParentFrame
	}
	if cfg.Foxglove.FrameID == "" {
		cfg.Foxglove.FrameID = def.Foxglove.FrameID
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = def.Metrics.Addr
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	cfg.Log.Encoding = strings.ToLower(strings.TrimSpace(cfg.Log.Encoding))
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = def.Log.Encoding
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path

	// Recording paths are relative to the config file.
	baseDir := filepath.Dir(path)
	cfg.Source.Path = resolvePath(baseDir, cfg.Source.Path)
	cfg.Sink.Path = resolvePath(baseDir, cfg.Sink.Path)
	cfg.Recorder.JSONL = resolvePath(baseDir, cfg.Recorder.JSONL)
}

func resolvePath(baseDir, p string) string {
	if p == "" || p == "-" || filepath.IsAbs(p) {
		return p
	}
	p = filepath.Clean(filepath.Join(baseDir, p))
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p
}
