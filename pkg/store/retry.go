// retry.go rides out transient SQLite errors.
//
// Several processes append to the same WAL-mode database (CLI calls, the
// reflection poller). busy_timeout covers most SQLITE_BUSY cases at the
// connection level, but a deferred transaction that needs to upgrade to a
// writer, a table lock, or a short WAL read can still surface as an error.
// Those are retried with exponential backoff and jitter; everything else,
// including duplicate-key conflicts, returns immediately.
package store

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/daviddao/cndq/pkg/model"
)

// retryConfig controls retry behavior for transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// defaultRetryConfig is used for all store write operations.
var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// isTransientSQLiteErr reports whether err is worth retrying. Typed
// errors from the driver are classified by primary result code; anything
// else falls back to matching the message text.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrDuplicateSeq) || errors.Is(err, model.ErrDuplicateKey) {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return se.Code() == sqlite3.SQLITE_IOERR_SHORT_READ
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOp runs fn until it succeeds, fails permanently, or the retry
// budget is spent. The last error is returned.
func retryOp(cfg retryConfig, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !isTransientSQLiteErr(err) {
			return err
		}
		if attempt >= cfg.maxRetries {
			return err
		}
		time.Sleep(backoffDelay(cfg, attempt))
	}
}

// backoffDelay is baseDelay * 2^attempt capped at maxDelay, plus up to one
// baseDelay of jitter.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay || delay <= 0 {
		delay = cfg.maxDelay
	}
	if cfg.baseDelay <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
