package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
)

func TestClassifyInvalidation(t *testing.T) {
	tests := map[string]struct {
		err      error
		want     InvalidationCause
		restarts bool
	}{
		"timeout": {
			err:      readers.NewReaderError(readers.CodeSessionTimeout, ""),
			want:     InvalidationCause{Kind: CauseTimeout},
			restarts: true,
		},
		"user cancelled": {
			err:  readers.NewReaderError(readers.CodeUserCanceled, "stopped by operator"),
			want: InvalidationCause{Kind: CauseUserCancelled},
		},
		"first read": {
			err:  readers.NewReaderError(readers.CodeFirstNDEFTagRead, ""),
			want: InvalidationCause{Kind: CauseFirstTagRead},
		},
		"terminated": {
			err:      readers.NewReaderError(readers.CodeSessionTerminatedUnexpectedly, "device disconnected"),
			want:     InvalidationCause{Kind: CauseOther, Message: "session terminated unexpectedly: device disconnected"},
			restarts: true,
		},
		"busy": {
			err:      readers.NewReaderError(readers.CodeSystemIsBusy, ""),
			want:     InvalidationCause{Kind: CauseOther, Message: "system is busy"},
			restarts: true,
		},
		"unknown code": {
			err:      readers.NewReaderError(readers.ErrorCode(999), ""),
			want:     InvalidationCause{Kind: CauseOther, Message: "code 999"},
			restarts: true,
		},
		"wrapped": {
			err:      fmt.Errorf("session: %w", readers.NewReaderError(readers.CodeSessionTimeout, "")),
			want:     InvalidationCause{Kind: CauseTimeout},
			restarts: true,
		},
		"plain error": {
			err:      errors.New("boom"),
			want:     InvalidationCause{Kind: CauseOther, Message: "boom"},
			restarts: true,
		},
		"nil": {
			err:      nil,
			want:     InvalidationCause{Kind: CauseOther, Message: "unknown error"},
			restarts: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := ClassifyInvalidation(tc.err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.restarts, got.Restarts())
		})
	}
}

func TestInvalidationCauseString(t *testing.T) {
	assert.Equal(t, "timeout", InvalidationCause{Kind: CauseTimeout}.String())
	assert.Equal(t, "other: boom", InvalidationCause{Kind: CauseOther, Message: "boom"}.String())
	assert.Equal(t, "other", InvalidationCause{Kind: CauseOther}.String())
}

func TestCycleFailureUnwrap(t *testing.T) {
	err := &CycleFailure{Stage: StageRead, UID: "04a1", Err: readers.ErrNoNdef}
	assert.ErrorIs(t, err, readers.ErrNoNdef)
	assert.Equal(t, "read failed: tag has no ndef message", err.Error())
}
