// Package config loads voicegate settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the variable pointing at an optional YAML overlay.
const ConfigPathEnv = "VOICEGATE_CONFIG"

// Activity sources.
const (
	SourceSpectrum = "spectrum"
	SourceSamples  = "samples"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	STTURL         string        `yaml:"stt_url"`
	Language       string        `yaml:"stt_language"`
	Encoding       string        `yaml:"stt_encoding"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	SampleRate           int      `yaml:"sample_rate"`
	FrameSize            int      `yaml:"frame_size"`
	FFTSize              int      `yaml:"fft_size"`
	AudioDevice          string   `yaml:"audio_device"`
	ExcludedAudioDevices []string `yaml:"excluded_audio_devices"`

	ActivitySource   string        `yaml:"activity_source"`
	SilenceThreshold float64       `yaml:"silence_threshold"`
	VoicePeakFactor  float64       `yaml:"voice_peak_factor"`
	ActivityDecay    float64       `yaml:"activity_decay"`
	MinActivity      time.Duration `yaml:"min_activity_duration"`
	PauseAfter       time.Duration `yaml:"pause_after_silence"`
	DisconnectAfter  time.Duration `yaml:"disconnect_after_silence"`

	DisplayRate       float64 `yaml:"display_rate"` // Hz
	TranscriptHistory int     `yaml:"transcript_history"`
	AutoStart         bool    `yaml:"auto_start"`

	BreakerThreshold int           `yaml:"connect_breaker_threshold"`
	BreakerReset     time.Duration `yaml:"connect_breaker_reset"`

	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		HTTPAddr:             ":8000",
		GRPCAddr:             ":50061",
		STTURL:               "ws://localhost:8080/api/v1/ws/speech-to-text",
		Language:             "ar-EG",
		Encoding:             "LINEAR16",
		ConnectTimeout:       5 * time.Second,
		SampleRate:           16000,
		FrameSize:            4096,
		FFTSize:              2048,
		ExcludedAudioDevices: []string{"iphone", "teams"},
		ActivitySource:       SourceSpectrum,
		SilenceThreshold:     2,
		VoicePeakFactor:      1.5,
		ActivityDecay:        0.01,
		MinActivity:          50 * time.Millisecond,
		PauseAfter:           2 * time.Second,
		DisconnectAfter:      5 * time.Second,
		DisplayRate:          30,
		TranscriptHistory:    30,
		BreakerThreshold:     3,
		BreakerReset:         10 * time.Second,
		LogLevel:             "info",
		MetricsEnabled:       true,
	}
}

// Load builds the configuration: defaults, then the YAML overlay, then environment.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getEnv("GRPC_ADDR", c.GRPCAddr)
	c.STTURL = getEnv("STT_URL", c.STTURL)
	c.Language = getEnv("STT_LANGUAGE", c.Language)
	c.Encoding = getEnv("STT_ENCODING", c.Encoding)
	c.ConnectTimeout = getEnvDuration("CONNECT_TIMEOUT", c.ConnectTimeout)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.FrameSize = getEnvInt("FRAME_SIZE", c.FrameSize)
	c.FFTSize = getEnvInt("FFT_SIZE", c.FFTSize)
	c.AudioDevice = getEnv("AUDIO_DEVICE", c.AudioDevice)
	c.ExcludedAudioDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", c.ExcludedAudioDevices)
	c.ActivitySource = strings.ToLower(getEnv("ACTIVITY_SOURCE", c.ActivitySource))
	c.SilenceThreshold = getEnvFloat("SILENCE_THRESHOLD", c.SilenceThreshold)
	c.VoicePeakFactor = getEnvFloat("VOICE_PEAK_FACTOR", c.VoicePeakFactor)
	c.ActivityDecay = getEnvFloat("ACTIVITY_DECAY", c.ActivityDecay)
	c.MinActivity = getEnvDuration("MIN_ACTIVITY_DURATION", c.MinActivity)
	c.PauseAfter = getEnvDuration("PAUSE_AFTER_SILENCE", c.PauseAfter)
	c.DisconnectAfter = getEnvDuration("DISCONNECT_AFTER_SILENCE", c.DisconnectAfter)
	c.DisplayRate = getEnvFloat("DISPLAY_RATE", c.DisplayRate)
	c.TranscriptHistory = getEnvInt("TRANSCRIPT_HISTORY", c.TranscriptHistory)
	c.AutoStart = getEnvBool("AUTO_START", c.AutoStart)
	c.BreakerThreshold = getEnvInt("CONNECT_BREAKER_THRESHOLD", c.BreakerThreshold)
	c.BreakerReset = getEnvDuration("CONNECT_BREAKER_RESET", c.BreakerReset)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.STTURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, fmt.Errorf("STT_URL %q must be a ws:// or wss:// URL", c.STTURL))
	}
	if c.Language == "" {
		errs = append(errs, errors.New("STT_LANGUAGE must not be empty"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("SAMPLE_RATE %d must be positive", c.SampleRate))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("FRAME_SIZE %d must be positive", c.FrameSize))
	}
	if c.FFTSize < 32 || c.FFTSize&(c.FFTSize-1) != 0 {
		errs = append(errs, fmt.Errorf("FFT_SIZE %d must be a power of two >= 32", c.FFTSize))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CONNECT_TIMEOUT %v must be positive", c.ConnectTimeout))
	}
	if c.ActivitySource != SourceSpectrum && c.ActivitySource != SourceSamples {
		errs = append(errs, fmt.Errorf("ACTIVITY_SOURCE %q must be %q or %q", c.ActivitySource, SourceSpectrum, SourceSamples))
	}
	if c.SilenceThreshold <= 0 || c.VoicePeakFactor <= 0 {
		errs = append(errs, errors.New("SILENCE_THRESHOLD and VOICE_PEAK_FACTOR must be positive"))
	}
	if c.ActivityDecay <= 0 || c.ActivityDecay >= 1 {
		errs = append(errs, fmt.Errorf("ACTIVITY_DECAY %v must be in (0,1)", c.ActivityDecay))
	}
	if c.MinActivity < 0 {
		errs = append(errs, fmt.Errorf("MIN_ACTIVITY_DURATION %v must not be negative", c.MinActivity))
	}
	if c.PauseAfter <= 0 || c.DisconnectAfter <= c.PauseAfter {
		errs = append(errs, fmt.Errorf("need 0 < PAUSE_AFTER_SILENCE (%v) < DISCONNECT_AFTER_SILENCE (%v)", c.PauseAfter, c.DisconnectAfter))
	}
	if c.DisplayRate <= 0 {
		errs = append(errs, fmt.Errorf("DISPLAY_RATE %v must be positive", c.DisplayRate))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

// getEnvDuration accepts Go durations ("750ms") or bare integers as milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
