package executor

import (
	"strings"
	"time"

	"github.com/slatehq/slate/errors"
)

// Strategy selects how retry delays grow between attempts.
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// ParseStrategy converts a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyNone:
		return StrategyNone, nil
	case StrategyFixed:
		return StrategyFixed, nil
	case StrategyLinear:
		return StrategyLinear, nil
	case StrategyExponential:
		return StrategyExponential, nil
	default:
		return "", errors.Newf("unknown retry strategy %q (want none, fixed, linear, or exponential)", s)
	}
}

// Policy controls retries and timeouts for one execution.
type Policy struct {
	MaxRetries        int           // attempts after the first; ignored under StrategyNone
	Strategy          Strategy      // delay growth between attempts
	BaseDelay         time.Duration // first retry delay
	MaxDelay          time.Duration // ceiling for exponential growth; 0 = uncapped
	TimeoutPerAttempt time.Duration // per-attempt deadline; 0 = no timeout
}

// DefaultPolicy returns the standard production policy: three retries with
// exponential back-off from one minute, capped at an hour, and a 30 minute
// per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		Strategy:          StrategyExponential,
		BaseDelay:         time.Minute,
		MaxDelay:          time.Hour,
		TimeoutPerAttempt: 30 * time.Minute,
	}
}

// MaxAttempts returns the total attempt budget under this policy.
func (p Policy) MaxAttempts() int {
	if p.Strategy == StrategyNone || p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// RetryDelay returns the wait before the next attempt given the number of
// failed attempts so far (1 after the first failure).
func (p Policy) RetryDelay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	switch p.Strategy {
	case StrategyNone:
		return 0
	case StrategyFixed:
		return p.BaseDelay
	case StrategyLinear:
		return time.Duration(failures) * p.BaseDelay
	case StrategyExponential:
		// Doubling in a loop rather than shifting avoids overflow when a
		// policy allows many attempts.
		delay := p.BaseDelay
		for i := 1; i < failures; i++ {
			delay *= 2
			if p.MaxDelay > 0 && delay >= p.MaxDelay {
				return p.MaxDelay
			}
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
		return delay
	default:
		return p.BaseDelay
	}
}
