// Package config provides configuration management for cortextalk
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CORTEXTALK_SERVER_CHAT_URL.
const EnvPrefix = "CORTEXTALK"

// ErrNoConfigFile is returned by Watch when defaults are in use.
var ErrNoConfigFile = errors.New("no config file in use")

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Avatar    AvatarConfig    `mapstructure:"avatar"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Dictation DictationConfig `mapstructure:"dictation"`
	UI        UIConfig        `mapstructure:"ui"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the chat server connection
type ServerConfig struct {
	ChatURL   string        `mapstructure:"chat_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ChunkSize int           `mapstructure:"chunk_size"`
}

// AvatarConfig configures the video avatar
type AvatarConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IdleVideo string `mapstructure:"idle_video"`
	TalkVideo string `mapstructure:"talk_video"`
}

// AudioConfig configures clip analysis and mouth sync
type AudioConfig struct {
	Analysis      bool          `mapstructure:"analysis"`
	FFTSize       int           `mapstructure:"fft_size"`
	Smoothing     float64       `mapstructure:"smoothing"`
	MinDecibels   float64       `mapstructure:"min_decibels"`
	MaxDecibels   float64       `mapstructure:"max_decibels"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	MouthPolicy   string        `mapstructure:"mouth_policy"` // always or fallback
	// PlaybackSpeed scales virtual clip durations in console mode.
	PlaybackSpeed float64 `mapstructure:"playback_speed"`
}

// DictationConfig configures speech input
type DictationConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Language         string `mapstructure:"language"`
	Idle             string `mapstructure:"idle"`
	Recording        string `mapstructure:"recording"`
	Unavailable      string `mapstructure:"unavailable"`
	UnavailableTitle string `mapstructure:"unavailable_title"`
	Denied           string `mapstructure:"denied"`
	DeniedTitle      string `mapstructure:"denied_title"`
}

// UIConfig configures the page server
type UIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	StaticDir  string `mapstructure:"static_dir"`
	Title      string `mapstructure:"title"`
}

// MessagesConfig holds the user-visible conversation strings
type MessagesConfig struct {
	NowPlaying    string `mapstructure:"now_playing"`
	StatusDefault string `mapstructure:"status_default"`
	Apology       string `mapstructure:"apology"`
	Send          string `mapstructure:"send"`
	Sending       string `mapstructure:"sending"`
}

// LogConfig configures logging
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ChatURL:   "http://127.0.0.1:5000/chat",
			Timeout:   30 * time.Second,
			ChunkSize: 4096,
		},
		Avatar: AvatarConfig{
			Enabled:   true,
			IdleVideo: "/static/avatar-idle.mp4",
			TalkVideo: "/static/avatar-talk.mp4",
		},
		Audio: AudioConfig{
			Analysis:      true,
			FFTSize:       256,
			Smoothing:     0.8,
			MinDecibels:   -100,
			MaxDecibels:   -30,
			FrameInterval: 16 * time.Millisecond,
			MouthPolicy:   "always",
			PlaybackSpeed: 1.0,
		},
		Dictation: DictationConfig{
			Enabled:          true,
			Language:         "zh-CN",
			Idle:             "语音输入",
			Recording:        "停止录音",
			Unavailable:      "语音不可用",
			UnavailableTitle: "当前浏览器不支持语音识别",
			Denied:           "语音被拒绝",
			DeniedTitle:      "麦克风访问被拒绝，刷新页面后可重新授权。",
		},
		UI: UIConfig{
			ListenAddr: "127.0.0.1:8090",
			Title:      "cortextalk",
		},
		Messages: MessagesConfig{
			NowPlaying:    "正在播放语音...",
			StatusDefault: "正在准备语音...",
			Apology:       "抱歉，服务器出错了，请稍后重试。",
			Send:          "发送",
			Sending:       "发送中...",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.chat_url", cfg.Server.ChatURL)
	v.SetDefault("server.timeout", cfg.Server.Timeout)
	v.SetDefault("server.chunk_size", cfg.Server.ChunkSize)

	v.SetDefault("avatar.enabled", cfg.Avatar.Enabled)
	v.SetDefault("avatar.idle_video", cfg.Avatar.IdleVideo)
	v.SetDefault("avatar.talk_video", cfg.Avatar.TalkVideo)

	v.SetDefault("audio.analysis", cfg.Audio.Analysis)
	v.SetDefault("audio.fft_size", cfg.Audio.FFTSize)
	v.SetDefault("audio.smoothing", cfg.Audio.Smoothing)
	v.SetDefault("audio.min_decibels", cfg.Audio.MinDecibels)
	v.SetDefault("audio.max_decibels", cfg.Audio.MaxDecibels)
	v.SetDefault("audio.frame_interval", cfg.Audio.FrameInterval)
	v.SetDefault("audio.mouth_policy", cfg.Audio.MouthPolicy)
	v.SetDefault("audio.playback_speed", cfg.Audio.PlaybackSpeed)

	v.SetDefault("dictation.enabled", cfg.Dictation.Enabled)
	v.SetDefault("dictation.language", cfg.Dictation.Language)
	v.SetDefault("dictation.idle", cfg.Dictation.Idle)
	v.SetDefault("dictation.recording", cfg.Dictation.Recording)
	v.SetDefault("dictation.unavailable", cfg.Dictation.Unavailable)
	v.SetDefault("dictation.unavailable_title", cfg.Dictation.UnavailableTitle)
	v.SetDefault("dictation.denied", cfg.Dictation.Denied)
	v.SetDefault("dictation.denied_title", cfg.Dictation.DeniedTitle)

	v.SetDefault("ui.listen_addr", cfg.UI.ListenAddr)
	v.SetDefault("ui.static_dir", cfg.UI.StaticDir)
	v.SetDefault("ui.title", cfg.UI.Title)

	v.SetDefault("messages.now_playing", cfg.Messages.NowPlaying)
	v.SetDefault("messages.status_default", cfg.Messages.StatusDefault)
	v.SetDefault("messages.apology", cfg.Messages.Apology)
	v.SetDefault("messages.send", cfg.Messages.Send)
	v.SetDefault("messages.sending", cfg.Messages.Sending)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.dir", cfg.Log.Dir)
	v.SetDefault("log.console", cfg.Log.Console)
}

// Load reads configuration from path (or config.yaml in the config dir or
// the working directory), .env files and the environment. A missing file
// leaves the defaults in place.
func Load(path string) (*Config, *viper.Viper, error) {
	loadDotEnv(path)

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// loadDotEnv loads .env next to the config file and in the working
// directory. Variables already set win.
func loadDotEnv(path string) {
	candidates := []string{".env"}
	if path != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(path), ".env")}, candidates...)
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the components cannot recover from.
func (c *Config) Validate() error {
	switch c.Audio.MouthPolicy {
	case "", "always", "fallback":
	default:
		return fmt.Errorf("audio.mouth_policy must be always or fallback, got %q", c.Audio.MouthPolicy)
	}
	if c.Server.ChatURL == "" {
		return errors.New("server.chat_url is required")
	}
	return nil
}

// Watch reloads the file on change and hands the new configuration to
// onChange. Invalid edits are reported through onError and otherwise ignored.
func Watch(v *viper.Viper, onChange func(*Config, fsnotify.Event), onError func(error)) error {
	if v.ConfigFileUsed() == "" {
		return ErrNoConfigFile
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return ErrNoConfigFile
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg, e)
	})
	v.WatchConfig()
	return nil
}

// Save writes the configuration to path, or config.yaml in the config dir.
func Save(cfg *Config, path string) (string, error) {
	if path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	// Written settings include defaults, keyed like the file is read.
	v := viper.New()
	setDefaults(v, cfg)
	return path, v.WriteConfigAs(path)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortextalk"), nil
}
