package config

import (
	"fmt"
	"time"
)

// RetryBackoffMode selects the delay growth curve between build attempts.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// RetryConfig holds raw retry settings from the config file. The pipeline
// retries a known-defect build exactly once; the policy only shapes the pause
// before that retry (and janitor re-sweeps).
type RetryConfig struct {
	Backoff RetryBackoffMode `yaml:"backoff"`
	Initial time.Duration    `yaml:"initial"`
	Max     time.Duration    `yaml:"max"`
}

func (r *RetryConfig) applyDefaults() {
	if r.Backoff == "" {
		r.Backoff = RetryBackoffFixed
	}
	if r.Initial == 0 {
		r.Initial = 2 * time.Second
	}
	if r.Max == 0 {
		r.Max = 30 * time.Second
	}
	if r.Initial > r.Max {
		r.Initial = r.Max
	}
}

// RetryPolicy is the immutable, validated form of RetryConfig.
type RetryPolicy struct {
	Mode    RetryBackoffMode
	Initial time.Duration
	Max     time.Duration
}

func (r RetryConfig) policy() RetryPolicy {
	return RetryPolicy{Mode: r.Backoff, Initial: r.Initial, Max: r.Max}
}

// Policy returns the validated retry policy for this config.
func (c *Config) RetryPolicy() RetryPolicy { return c.Retry.policy() }

// Delay returns the backoff delay for the given retry attempt (1-based).
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case RetryBackoffExponential:
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max {
			return p.Max
		}
		return d
	case RetryBackoffLinear:
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	default: // fixed
		return p.Initial
	}
}

// Validate ensures the policy is applicable.
func (p RetryPolicy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	switch p.Mode {
	case RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential:
		return nil
	default:
		return fmt.Errorf("unknown backoff mode %q", p.Mode)
	}
}
