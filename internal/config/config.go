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

	"flightcheck/internal/checks/declarative"
	"flightcheck/internal/model"
	"flightcheck/internal/rule"
)

type Config struct {
	LogLevel    string         `json:"log_level" yaml:"log_level"`
	LogFormat   string         `json:"log_format" yaml:"log_format"`
	Engine      EngineConfig   `json:"engine" yaml:"engine"`
	Preferences map[string]any `json:"preferences" yaml:"preferences"`
	Rules       RulesConfig    `json:"rules" yaml:"rules"`
	Source      SourceConfig   `json:"source" yaml:"source"`
	Storage     StorageConfig  `json:"storage" yaml:"storage"`
	Sinks       SinksConfig    `json:"sinks" yaml:"sinks"`
	API         APIConfig      `json:"api" yaml:"api"`
	History     HistoryConfig  `json:"history" yaml:"history"`
	Metrics     MetricsConfig  `json:"metrics" yaml:"metrics"`
	Report      ReportConfig   `json:"report" yaml:"report"`
}

type EngineConfig struct {
	Workers     int           `json:"workers" yaml:"workers"`
	RuleTimeout time.Duration `json:"rule_timeout" yaml:"rule_timeout"`
}

// RulesConfig selects rules from the catalog and adds declarative ones. Deny lists
// win over allow lists; empty allow lists admit everything.
type RulesConfig struct {
	Enabled         []string                 `json:"enabled" yaml:"enabled"`
	Disabled        []string                 `json:"disabled" yaml:"disabled"`
	Topics          []string                 `json:"topics" yaml:"topics"`
	DisabledTopics  []string                 `json:"disabled_topics" yaml:"disabled_topics"`
	DefinitionFiles []string                 `json:"definition_files" yaml:"definition_files"`
	Definitions     []declarative.Definition `json:"definitions" yaml:"definitions"`
}

type SourceConfig struct {
	Format   string      `json:"format" yaml:"format"`
	Timezone string      `json:"timezone" yaml:"timezone"`
	Kafka    KafkaConfig `json:"kafka" yaml:"kafka"`
	Spool    SpoolConfig `json:"spool" yaml:"spool"`
}

// SpoolConfig watches a directory for recording files. Evaluated files move to
// Done, unreadable ones to Failed.
type SpoolConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Dir      string        `json:"dir" yaml:"dir"`
	Done     string        `json:"done" yaml:"done"`
	Failed   string        `json:"failed" yaml:"failed"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Settle   time.Duration `json:"settle" yaml:"settle"`
}

type KafkaConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	GroupID      string        `json:"group_id" yaml:"group_id"`
	MaxEvents    int           `json:"max_events" yaml:"max_events"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	DedupeWindow time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type SinksConfig struct {
	Kafka KafkaSinkConfig `json:"kafka" yaml:"kafka"`
	NATS  NATSSinkConfig  `json:"nats" yaml:"nats"`

	// Cooldown suppresses republishing an unchanged verdict for the same recording.
	Cooldown    time.Duration `json:"cooldown" yaml:"cooldown"`
	MinSeverity string        `json:"min_severity" yaml:"min_severity"`
}

type KafkaSinkConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type NATSSinkConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type HistoryConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type ReportConfig struct {
	Format      string `json:"format" yaml:"format"`
	MinSeverity string `json:"min_severity" yaml:"min_severity"`
	Verbose     bool   `json:"verbose" yaml:"verbose"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "json",
		Preferences: map[string]any{},
		Source:      SourceConfig{Format: "auto", Timezone: "UTC"},
		Storage:     StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:flightcheck.db?_pragma=busy_timeout(5000)"},
		Sinks: SinksConfig{
			Kafka:    KafkaSinkConfig{Enabled: false},
			NATS:     NATSSinkConfig{Enabled: false, URL: "nats://127.0.0.1:4222", Subject: "flightcheck.reports"},
			Cooldown: time.Minute,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		History: HistoryConfig{StoreLimit: 100},
		Metrics: MetricsConfig{StoreLimit: 500},
		Report:  ReportConfig{Format: "text"},
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
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Preferences == nil {
		cfg.Preferences = map[string]any{}
	}
	if cfg.Source.Format == "" {
		cfg.Source.Format = "auto"
	}
	if cfg.Source.Timezone == "" {
		cfg.Source.Timezone = "UTC"
	}
	if cfg.History.StoreLimit <= 0 {
		cfg.History.StoreLimit = 100
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 500
	}
	if cfg.Report.Format == "" {
		cfg.Report.Format = "text"
	}
	if cfg.Source.Spool.Interval <= 0 {
		cfg.Source.Spool.Interval = 2 * time.Second
	}
	if cfg.Source.Spool.Dir != "" && cfg.Source.Spool.Done == "" {
		cfg.Source.Spool.Done = filepath.Join(cfg.Source.Spool.Dir, "done")
	}
	if cfg.Source.Spool.Dir != "" && cfg.Source.Spool.Failed == "" {
		cfg.Source.Spool.Failed = filepath.Join(cfg.Source.Spool.Dir, "failed")
	}
	if cfg.Sinks.NATS.Subject == "" {
		cfg.Sinks.NATS.Subject = "flightcheck.reports"
	}
}

func Validate(cfg *Config) error {
	if cfg.Engine.Workers < 0 {
		return errors.New("engine.workers must be >= 0")
	}
	if cfg.Engine.RuleTimeout < 0 {
		return errors.New("engine.rule_timeout must be >= 0")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if _, err := time.LoadLocation(cfg.Source.Timezone); err != nil {
		return fmt.Errorf("source.timezone: %w", err)
	}
	if cfg.Source.Kafka.Enabled {
		if len(cfg.Source.Kafka.Brokers) == 0 || cfg.Source.Kafka.Topic == "" || cfg.Source.Kafka.GroupID == "" {
			return errors.New("source.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Source.Spool.Enabled && cfg.Source.Spool.Dir == "" {
		return errors.New("source.spool.dir required when source.spool.enabled is true")
	}
	if cfg.Source.Spool.Settle < 0 {
		return errors.New("source.spool.settle must be >= 0")
	}
	if cfg.Storage.Enabled {
		switch cfg.Storage.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
		}
		if cfg.Storage.DSN == "" {
			return errors.New("storage.dsn required when storage.enabled is true")
		}
	}
	if cfg.Sinks.Kafka.Enabled && (len(cfg.Sinks.Kafka.Brokers) == 0 || cfg.Sinks.Kafka.Topic == "") {
		return errors.New("sinks.kafka requires brokers, topic")
	}
	if cfg.Sinks.NATS.Enabled && cfg.Sinks.NATS.URL == "" {
		return errors.New("sinks.nats.url required when sinks.nats.enabled is true")
	}
	for name, v := range map[string]string{
		"report.min_severity": cfg.Report.MinSeverity,
		"sinks.min_severity":  cfg.Sinks.MinSeverity,
	} {
		if _, err := ParseMinSeverity(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, d := range cfg.Rules.Definitions {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("rules.definitions: %w", err)
		}
	}
	return nil
}

// ParseMinSeverity accepts an empty value or an ordered severity.
func ParseMinSeverity(v string) (model.Severity, error) {
	if strings.TrimSpace(v) == "" {
		return "", nil
	}
	s, err := model.ParseSeverity(v)
	if err != nil {
		return "", err
	}
	if !s.Ordered() {
		return "", fmt.Errorf("%q is not an ordered severity", v)
	}
	return s, nil
}

func (c *Config) Selection() rule.Selection {
	return rule.Selection{
		Enabled:        c.Rules.Enabled,
		Disabled:       c.Rules.Disabled,
		Topics:         c.Rules.Topics,
		DisabledTopics: c.Rules.DisabledTopics,
	}
}

func (c *Config) RulePreferences() rule.MapPreferences {
	out := make(rule.MapPreferences, len(c.Preferences))
	for k, v := range c.Preferences {
		out[k] = v
	}
	return out
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Source.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadDefinitions returns the inline definitions followed by those read from
// definition files.
func (c *Config) LoadDefinitions() ([]declarative.Definition, error) {
	defs := append([]declarative.Definition(nil), c.Rules.Definitions...)
	for _, path := range c.Rules.DefinitionFiles {
		loaded, err := declarative.LoadFile(ResolvePath(path))
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// Static wraps a fixed config without a backing file.
func Static(cfg *Config) *Manager {
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

func (m *Manager) touch() {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	m.touch()
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
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
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
