package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/tcell/v2"
	"gopkg.in/yaml.v3"
)

const (
	AppName        = "openspot"
	AppTagline     = "Terminal music player"
	AppDescription = "Search, queue and play tracks from the terminal, or serve them over a local proxy"
	AppProjectURL  = "https://github.com/glebovdev/openspot"

	ConfigDir      = ".config/openspot"
	ConfigFileName = "config.yml"
	DefaultVolume  = 70
	MinVolume      = 0
	MaxVolume      = 100

	DefaultHost        = "127.0.0.1"
	DefaultPort        = 3000
	DefaultProxiesFile = "proxies.txt"
)

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/glebovdev/openspot/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

type Theme struct {
	Background       string `yaml:"background"`
	Foreground       string `yaml:"foreground"`
	Borders          string `yaml:"borders"`
	Highlight        string `yaml:"highlight"`
	MutedVolume      string `yaml:"muted_volume"`
	HeaderBackground string `yaml:"header_background"`
	ListHeaderBg     string `yaml:"list_header_background"`
	ListHeaderFg     string `yaml:"list_header_foreground"`
	HelpBackground   string `yaml:"help_background"`
	HelpForeground   string `yaml:"help_foreground"`
	HelpHotkey       string `yaml:"help_hotkey"`
	QualityBadge     string `yaml:"quality_badge"`
	ModalBackground  string `yaml:"modal_background"`
}

type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Upstream struct {
	BaseURL            string        `yaml:"base_url"`
	Referer            string        `yaml:"referer"`
	UserAgent          string        `yaml:"user_agent"`
	MaxRetries         int           `yaml:"max_retries"`
	SearchTimeout      time.Duration `yaml:"search_timeout"`
	StreamTimeout      time.Duration `yaml:"stream_timeout"`
	MinRequestInterval time.Duration `yaml:"min_request_interval"`
	SkipValidation     bool          `yaml:"skip_validation"`
}

type Proxies struct {
	File string `yaml:"file"`
}

type Loader struct {
	ChunkSize         int64         `yaml:"chunk_size"`
	HandoverMargin    time.Duration `yaml:"handover_margin"`
	HandoverRatio     float64       `yaml:"handover_ratio"`
	CrossfadeDuration time.Duration `yaml:"crossfade_duration"`
	CrossfadeSteps    int           `yaml:"crossfade_steps"`
	PrepareTimeout    time.Duration `yaml:"prepare_timeout"`
	CacheTracks       bool          `yaml:"cache_tracks"`
}

type Config struct {
	Volume   int      `yaml:"volume"`
	DataDir  string   `yaml:"data_dir"`
	Server   Server   `yaml:"server"`
	Upstream Upstream `yaml:"upstream"`
	Proxies  Proxies  `yaml:"proxies"`
	Loader   Loader   `yaml:"loader"`
	Theme    Theme    `yaml:"theme"`

	path string
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(home, ConfigDir, ConfigFileName)
	return configPath, nil
}

// Load reads the config from the default path.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadFrom(configPath)
}

// LoadFrom reads the config at path. A missing file yields the defaults.
func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.path = configPath
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = configPath
	cfg.Volume = ClampVolume(cfg.Volume)
	if cfg.Loader.HandoverRatio <= 0 || cfg.Loader.HandoverRatio > 1 {
		cfg.Loader.HandoverRatio = DefaultConfig().Loader.HandoverRatio
	}

	return cfg, nil
}

// Save writes the configuration back to where it was loaded from, or to the
// default path.
func (c *Config) Save() error {
	if c.path != "" {
		return c.SaveTo(c.path)
	}
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo writes the configuration to disk atomically using temp file + rename.
func (c *Config) SaveTo(configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

// ResolveDataDir returns DataDir, defaulting to ~/.local/share/openspot.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", AppName), nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume: DefaultVolume,
		Server: Server{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Upstream: Upstream{
			BaseURL:       "https://dab.yeet.su/api",
			Referer:       "https://dab.yeet.su/",
			MaxRetries:    3,
			SearchTimeout: 15 * time.Second,
			StreamTimeout: 10 * time.Second,
		},
		Proxies: Proxies{
			File: DefaultProxiesFile,
		},
		Loader: Loader{
			ChunkSize:         8194304,
			HandoverMargin:    8 * time.Second,
			HandoverRatio:     0.8,
			CrossfadeDuration: 50 * time.Millisecond,
			CrossfadeSteps:    3,
			PrepareTimeout:    800 * time.Millisecond,
			CacheTracks:       true,
		},
		Theme: Theme{
			Background:       "#1a1b25",
			Foreground:       "#a3aacb",
			Borders:          "#40445b",
			Highlight:        "#1db954",
			MutedVolume:      "#fe0702",
			HeaderBackground: "#233329",
			ListHeaderBg:     "#3a3d4f",
			ListHeaderFg:     "#c8d0e8",
			HelpBackground:   "#322f45",
			HelpForeground:   "#9aa3c6",
			HelpHotkey:       "#1db954",
			QualityBadge:     "#ffd166",
			ModalBackground:  "#282a36",
		},
	}
}

func GetColor(colorStr string) tcell.Color {
	if colorStr == "" || colorStr == "default" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(colorStr)
}
