package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
)

func TestDetermineAckNakAction(t *testing.T) {
	const maxDeliver = 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	retryable := apperrors.NewRetryable(errors.New("db down"), "transient failure")
	fatal := apperrors.NewFatal(errors.New("bad json"), "unmarshal failure")

	testCases := []struct {
		name          string
		err           error
		numDelivered  uint64
		expectedAct   AckNakAction
		expectedDelay time.Duration
	}{
		{"success acks", nil, 1, ActionAck, 0},
		{"retryable first attempt naks with base delay", retryable, 1, ActionNakDelay, 1 * time.Second},
		{"retryable second attempt doubles delay", retryable, 2, ActionNakDelay, 2 * time.Second},
		{"retryable third attempt doubles again", retryable, 3, ActionNakDelay, 4 * time.Second},
		{"retryable fourth attempt", retryable, 4, ActionNakDelay, 8 * time.Second},
		{"retryable at max deliver goes to dlq", retryable, 5, ActionDLQ, 0},
		{"retryable beyond max deliver goes to dlq", retryable, 7, ActionDLQ, 0},
		{"fatal error goes straight to dlq", fatal, 1, ActionDLQ, 0},
		{"plain error is not retryable, dlq", errors.New("unexpected"), 1, ActionDLQ, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			metadata := &nats.MsgMetadata{NumDelivered: tc.numDelivered}
			action, delay := determineAckNakAction(tc.err, metadata, maxDeliver, baseDelay, maxDelay)
			assert.Equal(t, tc.expectedAct, action)
			assert.Equal(t, tc.expectedDelay, delay)
		})
	}
}

func TestDetermineAckNakAction_DelayCap(t *testing.T) {
	retryable := apperrors.NewRetryable(errors.New("db down"), "transient failure")
	metadata := &nats.MsgMetadata{NumDelivered: 9}

	// 1s * 2^8 = 256s, capped at 30s.
	action, delay := determineAckNakAction(retryable, metadata, 20, 1*time.Second, 30*time.Second)
	assert.Equal(t, ActionNakDelay, action)
	assert.Equal(t, 30*time.Second, delay)
}

func TestModifySubjects(t *testing.T) {
	subjects := []string{"v1.events.track", "v1.events.identify"}

	streamSubjects, consumerSubjects := modifySubjects(subjects, "org_a")

	assert.Equal(t, []string{"v1.events.track.*", "v1.events.identify.*"}, streamSubjects)
	assert.Equal(t, []string{"v1.events.track.org_a", "v1.events.identify.org_a"}, consumerSubjects)
}

func TestModifySubjects_Empty(t *testing.T) {
	streamSubjects, consumerSubjects := modifySubjects(nil, "org_a")
	assert.Empty(t, streamSubjects)
	assert.Empty(t, consumerSubjects)
}

func TestSanitizeErrorType(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, "none"},
		{"database", apperrors.ErrDatabase, "database"},
		{"validation", apperrors.ErrValidation, "validation"},
		{"bad request", apperrors.ErrBadRequest, "validation"},
		{"not found", apperrors.ErrNotFound, "not_found"},
		{"unauthorized", apperrors.ErrUnauthorized, "unauthorized"},
		{"conflict", apperrors.ErrConflict, "conflict"},
		{"timeout", apperrors.ErrTimeout, "timeout"},
		{"nats", apperrors.ErrNATS, "nats"},
		{"wrapped database", apperrors.NewRetryable(apperrors.ErrDatabase, "save failed"), "database"},
		{"unmarshal text", errors.New("failed to unmarshal payload"), "unmarshal"},
		{"json text", errors.New("invalid json at offset 3"), "unmarshal"},
		{"panic text", errors.New("recovered from panic"), "panic"},
		{"anything else", errors.New("boom"), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeErrorType(tc.err))
		})
	}
}
