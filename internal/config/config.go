package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"aquaguard/internal/model"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"`
	Timezone   string           `json:"timezone" yaml:"timezone"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Evaluation EvaluationConfig `json:"evaluation" yaml:"evaluation"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	Sweep      SweepConfig      `json:"sweep" yaml:"sweep"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Health     HealthConfig     `json:"health" yaml:"health"`
	API        APIConfig        `json:"api" yaml:"api"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	Workers       int             `json:"workers" yaml:"workers"`
	DedupeWindow  time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew  time.Duration   `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration   `json:"max_future_skew" yaml:"max_future_skew"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Brokers     []string `json:"brokers" yaml:"brokers"`
	Topic       string   `json:"topic" yaml:"topic"`
	GroupID     string   `json:"group_id" yaml:"group_id"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts"`
}

type EvaluationConfig struct {
	Thresholds        map[model.Parameter]model.ThresholdConfig `json:"thresholds" yaml:"thresholds"`
	Trend             model.TrendConfig                         `json:"trend" yaml:"trend"`
	ConfigTTL         time.Duration                             `json:"config_ttl" yaml:"config_ttl"`
	WindowSampleLimit int                                       `json:"window_sample_limit" yaml:"window_sample_limit"`
}

// Document converts the file section into the model form used by the engine.
func (e EvaluationConfig) Document() model.EvaluationConfig {
	base := model.DefaultEvaluationConfig()
	trend := e.Trend
	return base.Apply(model.ThresholdDocument{Thresholds: e.Thresholds, Trend: &trend})
}

type NotifyConfig struct {
	Workers          int             `json:"workers" yaml:"workers"`
	RecipientTimeout time.Duration   `json:"recipient_timeout" yaml:"recipient_timeout"`
	DefaultScheme    string          `json:"default_scheme" yaml:"default_scheme"`
	Email            EmailConfig     `json:"email" yaml:"email"`
	WebSocket        WebSocketConfig `json:"websocket" yaml:"websocket"`
	Redis            RedisPubConfig  `json:"redis" yaml:"redis"`
}

type EmailConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	From     string `json:"from" yaml:"from"`
}

type WebSocketConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Buffer  int  `json:"buffer" yaml:"buffer"`
}

type RedisPubConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ChannelPrefix string `json:"channel_prefix" yaml:"channel_prefix"`
}

type SweepConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Interval     time.Duration `json:"interval" yaml:"interval"`
	StaleAfter   time.Duration `json:"stale_after" yaml:"stale_after"`
	LedgerTTL    time.Duration `json:"ledger_ttl" yaml:"ledger_ttl"`
	OfflineAfter time.Duration `json:"offline_after" yaml:"offline_after"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type HealthConfig struct {
	Infra       string  `json:"infra" yaml:"infra"`
	StaticScore float64 `json:"static_score" yaml:"static_score"`
	DiskPath    string  `json:"disk_path" yaml:"disk_path"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	defaults := model.DefaultEvaluationConfig()
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Timezone:  "Local",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Workers:       4,
			DedupeWindow:  1 * time.Minute,
			MaxClockSkew:  24 * time.Hour,
			MaxFutureSkew: 2 * time.Minute,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			Kafka:         KafkaConfig{Enabled: false, MaxAttempts: 3},
		},
		Evaluation: EvaluationConfig{
			Thresholds:        defaults.Thresholds,
			Trend:             defaults.Trend,
			ConfigTTL:         1 * time.Minute,
			WindowSampleLimit: 10,
		},
		Notify: NotifyConfig{
			Workers:          8,
			RecipientTimeout: 10 * time.Second,
			DefaultScheme:    "mailto",
			Email:            EmailConfig{Enabled: false, Port: 587},
			WebSocket:        WebSocketConfig{Enabled: true, Buffer: 64},
			Redis:            RedisPubConfig{Enabled: false, ChannelPrefix: "aquaguard:notify"},
		},
		Sweep: SweepConfig{
			Enabled:      true,
			Interval:     1 * time.Hour,
			StaleAfter:   2 * time.Hour,
			LedgerTTL:    7 * 24 * time.Hour,
			OfflineAfter: 15 * time.Minute,
		},
		Storage: StorageConfig{Driver: "memory"},
		Redis:   RedisConfig{Enabled: false, Addr: "localhost:6379"},
		Health:  HealthConfig{Infra: "static", StaticScore: 100, DiskPath: "/"},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.Kafka.MaxAttempts <= 0 {
		cfg.Ingest.Kafka.MaxAttempts = 3
	}
	if cfg.Evaluation.WindowSampleLimit <= 0 {
		cfg.Evaluation.WindowSampleLimit = 10
	}
	if cfg.Evaluation.ConfigTTL <= 0 {
		cfg.Evaluation.ConfigTTL = 1 * time.Minute
	}
	if len(cfg.Evaluation.Thresholds) == 0 {
		cfg.Evaluation.Thresholds = model.DefaultEvaluationConfig().Thresholds
	}
	if cfg.Notify.Workers <= 0 {
		cfg.Notify.Workers = 8
	}
	if cfg.Notify.RecipientTimeout <= 0 {
		cfg.Notify.RecipientTimeout = 10 * time.Second
	}
	if cfg.Notify.DefaultScheme == "" {
		cfg.Notify.DefaultScheme = "mailto"
	}
	if cfg.Notify.WebSocket.Buffer <= 0 {
		cfg.Notify.WebSocket.Buffer = 64
	}
	if cfg.Notify.Redis.ChannelPrefix == "" {
		cfg.Notify.Redis.ChannelPrefix = "aquaguard:notify"
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = 1 * time.Hour
	}
	if cfg.Sweep.StaleAfter <= 0 {
		cfg.Sweep.StaleAfter = 2 * time.Hour
	}
	if cfg.Sweep.LedgerTTL <= 0 {
		cfg.Sweep.LedgerTTL = 7 * 24 * time.Hour
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Health.Infra == "" {
		cfg.Health.Infra = "static"
	}
	if cfg.Health.DiskPath == "" {
		cfg.Health.DiskPath = "/"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	for p := range cfg.Evaluation.Thresholds {
		if !p.Valid() {
			return fmt.Errorf("evaluation.thresholds contains unknown parameter %q", p)
		}
	}
	if cfg.Evaluation.Trend.Enabled {
		if cfg.Evaluation.Trend.ThresholdPercentage <= 0 {
			return errors.New("evaluation.trend.threshold_percentage must be > 0")
		}
		if cfg.Evaluation.Trend.TimeWindowMinutes <= 0 {
			return errors.New("evaluation.trend.time_window_minutes must be > 0")
		}
	}
	if cfg.Notify.Email.Enabled && (cfg.Notify.Email.Host == "" || cfg.Notify.Email.From == "") {
		return errors.New("notify.email requires host and from")
	}
	if (cfg.Notify.Redis.Enabled || cfg.Redis.Enabled) && cfg.Redis.Addr == "" {
		return errors.New("redis.addr required when redis is used")
	}
	if cfg.Notify.Redis.Enabled && !cfg.Redis.Enabled {
		return errors.New("notify.redis requires redis.enabled")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	switch strings.ToLower(cfg.Health.Infra) {
	case "static", "system":
	default:
		return fmt.Errorf("unsupported health.infra %q", cfg.Health.Infra)
	}
	if cfg.Health.StaticScore < 0 || cfg.Health.StaticScore > 100 {
		return errors.New("health.static_score must be within [0,100]")
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// Location resolves the configured timezone used for quiet hours.
func (c *Config) Location() *time.Location {
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

type Manager struct {
	path      string
	cfg       atomic.Value
	modTime   time.Time
	overrides func(*Config)
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config; Reload and Watch are no-ops without a path.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	if m.overrides != nil {
		m.overrides(cfg)
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

// SetOverrides applies fn to the current config and again after every reload, so flag and
// environment values win over the file. Call it before Watch.
func (m *Manager) SetOverrides(fn func(*Config)) {
	m.overrides = fn
	if fn == nil {
		return
	}
	cfg := *m.Get()
	fn(&cfg)
	m.cfg.Store(&cfg)
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
