package resilience

import "time"

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// FromBreakerConfig converts config values to a BreakerConfig.
func FromBreakerConfig(failureThreshold, openTimeoutSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.ConsecutiveFailures = uint32(failureThreshold)
	}
	if openTimeoutSecs > 0 {
		cfg.OpenTimeout = time.Duration(openTimeoutSecs) * time.Second
	}
	return cfg
}
