package service

import (
	"errors"

	"github.com/wizzomafizzo/taprelay/pkg/readers"
)

type CauseKind int

const (
	CauseOther CauseKind = iota
	CauseTimeout
	CauseUserCancelled
	CauseFirstTagRead
)

func (k CauseKind) String() string {
	switch k {
	case CauseTimeout:
		return "timeout"
	case CauseUserCancelled:
		return "user cancelled"
	case CauseFirstTagRead:
		return "first tag read"
	default:
		return "other"
	}
}

// InvalidationCause is why a scan session ended. Message is only set for
// CauseOther.
type InvalidationCause struct {
	Kind    CauseKind
	Message string
}

func (c InvalidationCause) String() string {
	if c.Kind == CauseOther && c.Message != "" {
		return "other: " + c.Message
	}
	return c.Kind.String()
}

// Restarts reports whether the supervisor starts a new session after an
// invalidation with this cause.
func (c InvalidationCause) Restarts() bool {
	return c.Kind == CauseTimeout || c.Kind == CauseOther
}

// ClassifyInvalidation maps the error carried by a session invalidation to
// its cause. Anything that is not a known reader code is CauseOther.
func ClassifyInvalidation(err error) InvalidationCause {
	var re *readers.ReaderError
	if !errors.As(err, &re) {
		msg := "unknown error"
		if err != nil {
			msg = err.Error()
		}
		return InvalidationCause{Kind: CauseOther, Message: msg}
	}

	switch re.Code {
	case readers.CodeSessionTimeout:
		return InvalidationCause{Kind: CauseTimeout}
	case readers.CodeUserCanceled:
		return InvalidationCause{Kind: CauseUserCancelled}
	case readers.CodeFirstNDEFTagRead:
		return InvalidationCause{Kind: CauseFirstTagRead}
	default:
		return InvalidationCause{Kind: CauseOther, Message: re.Error()}
	}
}
