package postgres

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"poolIndexer/internal/storage"
)

// SQLSTATE codes worth retrying: serialization and deadlock failures, plus the server refusing
// or dropping connections.
var transientCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"53300": {}, // too_many_connections
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
}

// classify maps driver errors to storage.PersistError. Errors that are neither transient nor
// already classified are returned wrapped but unclassified, so callers treat them as fatal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var persistErr *storage.PersistError
	if errors.As(err, &persistErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTransient(err) {
		return &storage.PersistError{Kind: storage.Unavailable, Op: op, Err: err}
	}
	return &opError{op: op, err: err}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := transientCodes[pgErr.Code]; ok {
			return true
		}
		// Class 08: connection exception.
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return e.op + ": " + e.err.Error() }

func (e *opError) Unwrap() error { return e.err }
