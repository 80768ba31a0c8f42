package resilience

import "time"

// Circuit breaker configuration constants
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 1

	// Speech service connects: trip quickly so a dead endpoint fails fast.
	ConnectThreshold    = 3
	ConnectResetTimeout = 10 * time.Second
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string        // used in logs
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // wait before a half-open probe
	HalfOpenSuccesses int           // probe successes needed to close
}

// DefaultConfig returns general-purpose defaults.
func DefaultConfig() Config {
	return Config{
		Name:              "default",
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// ConnectConfig returns settings for the speech service dialer.
func ConnectConfig(threshold int, reset time.Duration) Config {
	cfg := Config{
		Name:              "stt-connect",
		Threshold:         threshold,
		ResetTimeout:      reset,
		HalfOpenSuccesses: 1,
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = ConnectThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = ConnectResetTimeout
	}
	return cfg
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
