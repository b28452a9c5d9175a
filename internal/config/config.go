package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the skald streaming client.
type Config struct {
	Endpoint string
	APIKey   string
	Debug    bool

	MetricsBindAddr  string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	SettingsAckGrace  time.Duration
	KeepaliveInterval time.Duration

	// Transcription leg. EnableTranscription gates whether the record is
	// sent at all; the remaining fields only matter when it is on.
	EnableTranscription bool
	TranscriptionModel  string
	Language            string
	SampleRate          int
	InterimResults      bool
	Keywords            []string

	// Agent leg.
	EnableAgent      bool
	AgentVoice       string
	AgentModel       string
	AgentGreeting    string
	AgentTemperature float64
	AgentVadEvents   bool

	// Input audio replayed from a WAV file, chunked on a wall-clock ticker.
	InputWAVPath  string
	InputLoop     bool
	ChunkDuration time.Duration

	// Optional transcript archive. Empty DatabaseURL keeps it in memory.
	DatabaseURL string

	// Local simulator, for running without a real backend.
	LocalBackend  bool
	LocalBindAddr string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		Endpoint:            envOrDefault("SKALD_ENDPOINT", "ws://127.0.0.1:8080/v1/stream"),
		APIKey:              stringsTrimSpace("SKALD_API_KEY"),
		MetricsBindAddr:     envOrDefault("SKALD_METRICS_BIND_ADDR", ":9102"),
		MetricsNamespace:    envOrDefault("SKALD_METRICS_NAMESPACE", "skald"),
		TranscriptionModel:  envOrDefault("SKALD_TRANSCRIPTION_MODEL", "nova-2"),
		Language:            envOrDefault("SKALD_LANGUAGE", "en"),
		AgentVoice:          envOrDefault("SKALD_AGENT_VOICE", "aria"),
		AgentModel:          envOrDefault("SKALD_AGENT_MODEL", "standard"),
		AgentGreeting:       stringsTrimSpace("SKALD_AGENT_GREETING"),
		InputWAVPath:        stringsTrimSpace("SKALD_INPUT_WAV"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		LocalBindAddr:       envOrDefault("SKALD_LOCAL_BIND_ADDR", "127.0.0.1:8080"),
		SampleRate:          16000,
		AgentTemperature:    0.4,
		EnableTranscription: true,
		EnableAgent:         false,
		InterimResults:      true,
		ShutdownTimeout:     10 * time.Second,
		SettingsAckGrace:    1500 * time.Millisecond,
		KeepaliveInterval:   20 * time.Second,
		ChunkDuration:       100 * time.Millisecond,
	}
	if raw := stringsTrimSpace("SKALD_KEYWORDS"); raw != "" {
		for _, kw := range strings.Split(raw, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				cfg.Keywords = append(cfg.Keywords, kw)
			}
		}
	}

	var err error
	cfg.Debug, err = boolFromEnv("SKALD_DEBUG", cfg.Debug)
	if err != nil {
		return Config{}, err
	}
	cfg.EnableTranscription, err = boolFromEnv("SKALD_ENABLE_TRANSCRIPTION", cfg.EnableTranscription)
	if err != nil {
		return Config{}, err
	}
	cfg.EnableAgent, err = boolFromEnv("SKALD_ENABLE_AGENT", cfg.EnableAgent)
	if err != nil {
		return Config{}, err
	}
	cfg.InterimResults, err = boolFromEnv("SKALD_INTERIM_RESULTS", cfg.InterimResults)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentVadEvents, err = boolFromEnv("SKALD_AGENT_VAD_EVENTS", cfg.AgentVadEvents)
	if err != nil {
		return Config{}, err
	}
	cfg.InputLoop, err = boolFromEnv("SKALD_INPUT_LOOP", cfg.InputLoop)
	if err != nil {
		return Config{}, err
	}
	cfg.LocalBackend, err = boolFromEnv("SKALD_LOCAL_BACKEND", cfg.LocalBackend)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("SKALD_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentTemperature, err = floatFromEnv("SKALD_AGENT_TEMPERATURE", cfg.AgentTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("SKALD_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SettingsAckGrace, err = durationFromEnv("SKALD_SETTINGS_ACK_GRACE", cfg.SettingsAckGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepaliveInterval, err = durationFromEnv("SKALD_KEEPALIVE_INTERVAL", cfg.KeepaliveInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkDuration, err = durationFromEnv("SKALD_CHUNK_DURATION", cfg.ChunkDuration)
	if err != nil {
		return Config{}, err
	}

	if !cfg.EnableTranscription && !cfg.EnableAgent {
		return Config{}, fmt.Errorf("at least one of SKALD_ENABLE_TRANSCRIPTION and SKALD_ENABLE_AGENT must be on")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("SKALD_SAMPLE_RATE must be positive")
	}
	if cfg.AgentTemperature < 0 || cfg.AgentTemperature > 2 {
		return Config{}, fmt.Errorf("SKALD_AGENT_TEMPERATURE must be in [0, 2]")
	}
	if cfg.SettingsAckGrace <= 0 {
		return Config{}, fmt.Errorf("SKALD_SETTINGS_ACK_GRACE must be positive")
	}
	if cfg.ChunkDuration < 10*time.Millisecond {
		return Config{}, fmt.Errorf("SKALD_CHUNK_DURATION must be at least 10ms")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
