package utils

import (
	"errors"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes a circuit breaker around an outbound dependency
type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// MinRequests is the number of requests observed before the ratio is trusted
	MinRequests  uint32
	FailureRatio float64
	// OnOpen is called when the breaker trips
	OnOpen func(name string)
}

// DefaultBreakerSettings returns the settings used for backend and task calls
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:         name,
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// NewCircuitBreaker builds a breaker that reports its transitions to logs and metrics
func NewCircuitBreaker[T any](settings BreakerSettings, logger *logrus.Logger) *gobreaker.CircuitBreaker[T] {
	monitoring.SetCircuitBreakerState(settings.Name, 0)

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")

			monitoring.SetCircuitBreakerState(name, breakerStateValue(to))
			monitoring.RecordCircuitBreakerTransition(name, from.String(), to.String())

			if to == gobreaker.StateOpen && settings.OnOpen != nil {
				settings.OnOpen(name)
			}
		},
	})
}

// IsBreakerRejection reports whether err came from an open or saturated breaker
func IsBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
