package faults

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/datarift/datarift/pkg/config"
)

// Classifier assigns severity, category, and retryability to raised faults.
// Classification is a pure function of the fault; policy-derived retry limits
// are copied onto the record so the retry pipeline needs no config access.
type Classifier struct {
	policy config.ErrorPolicy
}

// NewClassifier returns a classifier bound to the active error policy.
func NewClassifier(policy config.ErrorPolicy) *Classifier {
	return &Classifier{policy: policy}
}

// Classify builds a Record for the fault. Rules are evaluated in order; the
// first match wins.
func (c *Classifier) Classify(err error, fctx Context) Record {
	if fctx.Timestamp.IsZero() {
		fctx.Timestamp = time.Now()
	}

	rec := Record{
		ID:         newRecordID(),
		Kind:       errorKind(err),
		Message:    err.Error(),
		Context:    fctx,
		MaxRetries: c.policy.MaxRetries,
		RetryDelay: c.policy.RetryDelay.Std(),
		Err:        err,
	}

	switch {
	case isConnection(err):
		rec.Severity = SeverityHigh
		rec.Category = CategoryConnection
		rec.Retryable = true
	case isValidation(err):
		rec.Severity = SeverityMedium
		rec.Category = CategoryDataValidation
		rec.Retryable = false
	case isTermination(err):
		rec.Severity = SeverityCritical
		rec.Category = CategoryUnknown
		rec.Retryable = false
	case isCheckpoint(err):
		rec.Severity = SeverityHigh
		rec.Category = CategoryCheckpoint
		rec.Retryable = true
	case isConfiguration(err):
		rec.Severity = SeverityCritical
		rec.Category = CategoryConfiguration
		rec.Retryable = false
	case isSystem(err):
		rec.Severity = SeverityMedium
		rec.Category = CategorySystem
		rec.Retryable = true
	default:
		rec.Severity = SeverityMedium
		rec.Category = CategoryUnknown
		rec.Retryable = true
	}

	return rec
}

func errorKind(err error) string {
	var validationErr *ValidationError
	var checkpointErr *CheckpointError
	var configErr *config.ConfigError
	switch {
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &checkpointErr):
		return "checkpoint"
	case errors.As(err, &configErr):
		return "configuration"
	case isConnection(err):
		return "network"
	default:
		return fmt.Sprintf("%T", err)
	}
}

// isConnection decides errno-carrying errors by the errno alone. The bare
// net.Error interface is checked last because every syscall.Errno satisfies
// it, which would swallow resource-exhaustion errnos like ENOSPC.
func isConnection(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
			syscall.EPIPE, syscall.ETIMEDOUT, syscall.EHOSTUNREACH:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isValidation(err error) bool {
	var validationErr *ValidationError
	var numErr *strconv.NumError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &validationErr) ||
		errors.As(err, &numErr) ||
		errors.As(err, &typeErr)
}

// isTermination matches faults raised by process shutdown signals. They are
// never retried: the process is going away.
func isTermination(err error) bool {
	return errors.Is(err, context.Canceled)
}

func isCheckpoint(err error) bool {
	var checkpointErr *CheckpointError
	return errors.As(err, &checkpointErr)
}

func isConfiguration(err error) bool {
	var configErr *config.ConfigError
	return errors.As(err, &configErr)
}

func isSystem(err error) bool {
	if errors.Is(err, syscall.ENOMEM) || errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EMFILE) {
		return true
	}
	var sysErr *os.SyscallError
	var pathErr *os.PathError
	return errors.As(err, &sysErr) || errors.As(err, &pathErr)
}
