package trace

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Write failure classes reported by the Writer.
const (
	WriteErrorClassConnection = "connection"
	WriteErrorClassTimeout    = "timeout"
	WriteErrorClassContention = "contention"
	WriteErrorClassConstraint = "constraint"
	WriteErrorClassEncoding   = "encoding"
	WriteErrorClassUnknown    = "unknown"
)

// ClassifyWriteError maps a store write error to a failure class.
func ClassifyWriteError(err error) string {
	if err == nil {
		return WriteErrorClassUnknown
	}

	// Timeouts first: a net.Error can be both.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WriteErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WriteErrorClassTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return WriteErrorClassConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return WriteErrorClassConnection
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return WriteErrorClassConstraint
		case strings.HasPrefix(pgErr.Code, "08"):
			return WriteErrorClassConnection
		case pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03":
			return WriteErrorClassContention
		}
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range writeErrorMessageRules {
		if messageMatchesClass(msg, rule.class) {
			return rule.class
		}
	}
	return WriteErrorClassUnknown
}

// messageMatchesClass reports whether a lowercased error message contains
// any fragment of the rule for class.
func messageMatchesClass(msg, class string) bool {
	for _, rule := range writeErrorMessageRules {
		if rule.class != class {
			continue
		}
		for _, fragment := range rule.fragments {
			if strings.Contains(msg, fragment) {
				return true
			}
		}
	}
	return false
}

// writeErrorMessageRules classify driver errors that carry no typed cause.
// Rules are checked in order.
var writeErrorMessageRules = []struct {
	class     string
	fragments []string
}{
	{WriteErrorClassConnection, []string{"connection refused", "broken pipe", "no such host"}},
	{WriteErrorClassTimeout, []string{"timeout", "deadline exceeded"}},
	{WriteErrorClassContention, []string{"sqlite_busy", "database is locked"}},
	{WriteErrorClassConstraint, []string{"constraint failed", "violates unique constraint", "violates check constraint", "duplicate key"}},
	{WriteErrorClassEncoding, []string{"payload: json", "encode trace"}},
}
