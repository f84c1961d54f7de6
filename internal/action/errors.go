package action

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is matched by RateLimitError once the completion
	// service kept answering 429 through every retry.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidTransition is returned for a transition the current status
	// does not allow, such as executing a pending action.
	ErrInvalidTransition = errors.New("invalid action transition")
)

// RateLimitError carries the localized message shown to the user.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %v", ErrRateLimited, e.Err)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

func (e *RateLimitError) Unwrap() error { return e.Err }

func rateLimitMessage(korean bool, wait time.Duration) string {
	secs := int(wait.Round(time.Second) / time.Second)
	if secs <= 0 {
		secs = 60
	}
	if korean {
		return fmt.Sprintf("요청이 많아 잠시 처리할 수 없어요. 약 %d초 후에 다시 시도해 주세요.", secs)
	}
	return fmt.Sprintf("The assistant is temporarily rate limited. Please try again in about %d seconds.", secs)
}
