package service

import (
	"errors"
	"fmt"
)

var (
	ErrSessionConflict   = errors.New("a scan session is already active")
	ErrDeviceUnsupported = errors.New("scanning is not supported on this device")
	ErrNotRunning        = errors.New("supervisor is not running")
	ErrWriteInProgress   = errors.New("a tag write is already in progress")
	ErrInvalidId         = errors.New("tag id must be greater than zero")
	ErrIdRejected        = errors.New("identifier is not positive")
)

type Stage int

const (
	StageConnect Stage = iota
	StageQuery
	StageRead
	StageParse
)

func (s Stage) String() string {
	switch s {
	case StageConnect:
		return "connect"
	case StageQuery:
		return "query"
	case StageRead:
		return "read"
	case StageParse:
		return "parse"
	default:
		return "unknown"
	}
}

// CycleFailure aborts a single scan cycle. It never ends the session.
type CycleFailure struct {
	Stage Stage
	UID   string
	Err   error
}

func (e *CycleFailure) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Err)
}

func (e *CycleFailure) Unwrap() error {
	return e.Err
}
