package huggingface

import (
	"fmt"

	domain "github.com/bryanwahyu/medgemma-tb/internal/domain/inference"
)

type outcome int

const (
	outcomeSuccess  outcome = iota
	outcomeLoading          // 503 whose body mentions loading
	outcomeRejected         // 422, the endpoint refused this payload format
	outcomeFailed           // any other status, network error or timeout
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeLoading:
		return "loading"
	case outcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

type step int

const (
	stepReturn  step = iota
	stepRetry        // sleep, then resend the same format
	stepAdvance      // move to the next format
	stepFail         // stop and surface the attempt's error
)

// nextStep decides what follows one attempt. Loading retries are capped per
// format; once exhausted the attempt is treated as a failure.
func nextStep(o outcome, retries, maxRetries int, last bool) step {
	switch o {
	case outcomeSuccess:
		return stepReturn
	case outcomeLoading:
		if retries < maxRetries {
			return stepRetry
		}
	case outcomeRejected:
		return stepAdvance
	}
	if last {
		return stepFail
	}
	return stepAdvance
}

// attempt is one (payload format, response-or-error) pairing.
type attempt struct {
	outcome outcome
	text    string
	rule    Rule
	err     error
}

func (a attempt) errFor(shape, retries int) error {
	if a.outcome == outcomeLoading {
		return fmt.Errorf("format %d: %w after %d retries", shape, domain.ErrTransientUnavailable, retries)
	}
	return a.err
}
