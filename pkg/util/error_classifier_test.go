package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"digestgenie/pkg/circuitbreaker"
)

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	var syntaxErr error
	if err := json.Unmarshal([]byte("{"), &struct{}{}); err != nil {
		syntaxErr = err
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{name: "nil", err: nil, retryable: false, errType: ""},
		{name: "json", err: fmt.Errorf("decode: %w", syntaxErr), retryable: false, errType: "json_decode_error"},
		{name: "no rows", err: fmt.Errorf("load: %w", pgx.ErrNoRows), retryable: false, errType: "not_found"},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, retryable: false, errType: "duplicate_key"},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, retryable: true, errType: "db_connection_error"},
		{name: "deadline", err: fmt.Errorf("ai: %w", context.DeadlineExceeded), retryable: true, errType: "timeout"},
		{name: "canceled", err: context.Canceled, retryable: false, errType: "context_canceled"},
		{name: "breaker", err: circuitbreaker.ErrCircuitBreakerOpen, retryable: true, errType: "circuit_open"},
		{name: "refused", err: errors.New("dial tcp: connection refused"), retryable: true, errType: "db_connection_error"},
		{name: "unknown", err: errors.New("boom"), retryable: false, errType: "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tt.err)
			if retryable != tt.retryable || errType != tt.errType {
				t.Errorf("IsRetryableError(%v) = (%v, %q), want (%v, %q)", tt.err, retryable, errType, tt.retryable, tt.errType)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	if ShouldRetry(1, 3, false) {
		t.Fatalf("non-retryable errors must not retry")
	}
	if !ShouldRetry(3, 3, true) {
		t.Fatalf("retry count equal to max should still retry")
	}
	if ShouldRetry(4, 3, true) {
		t.Fatalf("retry count above max must stop")
	}
}
