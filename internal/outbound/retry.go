// ABOUTME: Retry classification and the timer abstraction that drives retries
// ABOUTME: Retries are scheduled as deferred jobs so workers never sleep

package outbound

import (
	"net/http"
	"time"

	"github.com/samber/lo"
)

const (
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries = 3
	// RetryDelay is the fixed wait between attempts.
	RetryDelay = 2 * time.Second
)

// retryableStatuses are the responses worth trying again.
var retryableStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Outcome is the classification of one delivery attempt.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classify maps an attempt result to an Outcome. A non-nil err is a
// transport failure and is always retryable. Only 200 counts as delivered;
// other 2xx codes are terminal failures.
func Classify(status int, err error) Outcome {
	switch {
	case err != nil:
		return OutcomeRetryable
	case status == http.StatusOK:
		return OutcomeDelivered
	case lo.Contains(retryableStatuses, status):
		return OutcomeRetryable
	default:
		return OutcomeTerminal
	}
}

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from running. It reports whether the call was
	// still pending.
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler schedules on the runtime timer wheel.
type SystemScheduler struct{}

// AfterFunc wraps time.AfterFunc.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
