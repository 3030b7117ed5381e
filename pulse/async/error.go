package async

import (
	"github.com/teranos/corpipe/errors"
)

// MaxRetries is the maximum number of retry attempts for a job whose
// handler returned a retryable error.
const MaxRetries = 2

// errRetryable marks errors worth another attempt (transient database or
// network failures). Handler bugs and bad payloads are not retryable.
var errRetryable = errors.New("retryable")

// Retryable marks err as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errRetryable)
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	return err != nil && errors.Is(err, errRetryable)
}
