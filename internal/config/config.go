// Package config loads the kiosk's settings from an optional YAML file, .env
// files and KIOSK_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/koscakluka/ema-kiosk/core/sessions"
	"github.com/koscakluka/ema-kiosk/core/vad"
	"github.com/koscakluka/ema-kiosk/core/voicesocket"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const EnvPrefix = "KIOSK"

const (
	BackendMiniaudio = "miniaudio"
	BackendPortaudio = "portaudio"
)

type Config struct {
	Socket       SocketConfig       `mapstructure:"socket"`
	VAD          VADConfig          `mapstructure:"vad"`
	Audio        AudioConfig        `mapstructure:"audio"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Sessions     SessionsConfig     `mapstructure:"sessions"`
	LogLevel     string             `mapstructure:"log_level"`
}

type SocketConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	InitialBackoff       time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

type VADConfig struct {
	EnergyThreshold   float64       `mapstructure:"energy_threshold"`
	SilenceDuration   time.Duration `mapstructure:"silence_duration"`
	MinSpeechDuration time.Duration `mapstructure:"min_speech_duration"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend"`
	SampleRate int    `mapstructure:"sample_rate"`
	// FramesPerBuffer only applies to the portaudio backend.
	FramesPerBuffer int `mapstructure:"frames_per_buffer"`
}

type ConversationConfig struct {
	CompletionResetDelay time.Duration `mapstructure:"completion_reset_delay"`
	MaxUtterance         time.Duration `mapstructure:"max_utterance"`
}

type SessionsConfig struct {
	// APIBaseURL enables backend-issued sessions. Sessions are minted
	// locally when it is empty.
	APIBaseURL string `mapstructure:"api_base_url"`
}

func setDefaults(v *viper.Viper) {
	socket := voicesocket.DefaultConfig()
	v.SetDefault("socket.base_url", "http://localhost:8000")
	v.SetDefault("socket.connect_timeout", socket.ConnectTimeout)
	v.SetDefault("socket.heartbeat_interval", socket.HeartbeatInterval)
	v.SetDefault("socket.initial_backoff", socket.InitialBackoff)
	v.SetDefault("socket.max_backoff", socket.MaxBackoff)
	v.SetDefault("socket.max_reconnect_attempts", socket.MaxReconnectAttempts)

	detector := vad.DefaultConfig()
	v.SetDefault("vad.energy_threshold", detector.EnergyThreshold)
	v.SetDefault("vad.silence_duration", detector.SilenceDuration)
	v.SetDefault("vad.min_speech_duration", detector.MinSpeechDuration)

	v.SetDefault("audio.backend", BackendMiniaudio)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.frames_per_buffer", 320)

	v.SetDefault("conversation.completion_reset_delay", 10*time.Second)
	v.SetDefault("conversation.max_utterance", 30*time.Second)

	v.SetDefault("sessions.api_base_url", "")
	v.SetDefault("log_level", "info")
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped; variables that are already set win.
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads the configuration. path may be empty to rely on defaults and
// the environment alone.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Socket.BaseURL) == "" {
		errs = append(errs, fmt.Errorf("socket.base_url is required"))
	} else {
		socket := c.SocketConfig()
		socket.SessionID = "config"
		if _, err := socket.URL(); err != nil {
			errs = append(errs, fmt.Errorf("socket.base_url: %w", err))
		}
	}
	switch c.Audio.Backend {
	case BackendMiniaudio, BackendPortaudio:
	default:
		errs = append(errs, fmt.Errorf("audio.backend must be %q or %q, got %q", BackendMiniaudio, BackendPortaudio, c.Audio.Backend))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive"))
	}
	if c.VAD.EnergyThreshold <= 0 || c.VAD.EnergyThreshold > 255 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold must be in (0, 255]"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

func (c Config) SocketConfig() voicesocket.Config {
	cfg := voicesocket.DefaultConfig()
	cfg.BaseURL = c.Socket.BaseURL
	cfg.ConnectTimeout = c.Socket.ConnectTimeout
	cfg.HeartbeatInterval = c.Socket.HeartbeatInterval
	cfg.InitialBackoff = c.Socket.InitialBackoff
	cfg.MaxBackoff = c.Socket.MaxBackoff
	cfg.MaxReconnectAttempts = c.Socket.MaxReconnectAttempts
	return cfg
}

func (c Config) VADConfig() vad.Config {
	return vad.Config{
		EnergyThreshold:   c.VAD.EnergyThreshold,
		SilenceDuration:   c.VAD.SilenceDuration,
		MinSpeechDuration: c.VAD.MinSpeechDuration,
	}
}

func (c Config) Issuer() sessions.Issuer {
	if c.Sessions.APIBaseURL == "" {
		return sessions.LocalIssuer{}
	}
	return sessions.NewHTTPIssuer(c.Sessions.APIBaseURL)
}
