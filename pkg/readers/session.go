/*
TapRelay
Copyright (C) 2023, 2024 Callan Barrett

This file is part of TapRelay.

TapRelay is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TapRelay is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TapRelay.  If not, see <http://www.gnu.org/licenses/>.
*/

package readers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Driver is the device specific half of a PollingSession.
type Driver interface {
	// Poll returns the tags currently in the field. Returning
	// ErrDeviceGone ends the session.
	Poll(ctx context.Context) ([]Tag, error)
	// ConnectTag selects a tag for I/O.
	ConnectTag(tag Tag) error
}

// PollingSession implements Session on top of a polling Driver. It is
// shared by every reader in this module.
type PollingSession struct {
	id     string
	driver Driver
	opts   SessionOptions
	sink   Sink

	mu       sync.Mutex
	begun    bool
	finished bool
	endErr   *ReaderError
	ctx      context.Context
	cancel   context.CancelFunc
	resume   chan struct{}
	done     chan struct{}
}

func NewPollingSession(driver Driver, opts SessionOptions, sink Sink) *PollingSession {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSessionTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &PollingSession{
		id:     uuid.New().String(),
		driver: driver,
		opts:   opts,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *PollingSession) Id() string {
	return s.id
}

func (s *PollingSession) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return ErrSessionInvalidated
	}
	if s.begun {
		return errors.New("session already started")
	}

	s.begun = true
	go s.run()

	return nil
}

func (s *PollingSession) Connect(tag Tag) error {
	if s.Finished() {
		return ErrSessionInvalidated
	}
	return s.driver.ConnectTag(tag)
}

func (s *PollingSession) RestartPolling() {
	select {
	case s.resume <- struct{}{}:
	default:
	}
}

func (s *PollingSession) CompleteRead() {
	if s.opts.StopAfterFirstRead {
		s.finish(NewReaderError(CodeFirstNDEFTagRead, ""))
		return
	}
	s.RestartPolling()
}

func (s *PollingSession) Invalidate(msg string) {
	s.finish(NewReaderError(CodeUserCanceled, msg))
}

// Finished reports whether the session has ended. The invalidation may
// not have been delivered yet.
func (s *PollingSession) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Done is closed once the polling goroutine has exited.
func (s *PollingSession) Done() <-chan struct{} {
	return s.done
}

// finish records the first reason the session ended and stops polling. The
// invalidation itself is delivered by the polling goroutine, so callers
// reading from the sink can call this without blocking.
func (s *PollingSession) finish(err *ReaderError) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.endErr = err
	begun := s.begun
	s.mu.Unlock()

	s.cancel()

	if !begun {
		// nothing is polling, deliver from here
		go s.deliverInvalidation()
	}
}

func (s *PollingSession) deliverInvalidation() {
	s.mu.Lock()
	err := s.endErr
	s.mu.Unlock()

	log.Debug().Msgf("session %s invalidated: %s", s.id, err)

	select {
	case s.sink.Invalidations <- Invalidation{Session: s, Err: err}:
	case <-s.sink.Done:
	}
}

func (s *PollingSession) run() {
	defer close(s.done)
	defer s.deliverInvalidation()

	timeout := time.NewTimer(s.opts.Timeout)
	defer timeout.Stop()

	errCount := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timeout.C:
			s.finish(NewReaderError(CodeSessionTimeout, ""))
			return
		case <-time.After(s.opts.PollInterval):
		}

		found, err := s.driver.Poll(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrDeviceGone) {
			s.finish(NewReaderError(CodeSessionTerminatedUnexpectedly, err.Error()))
			return
		} else if err != nil {
			errCount++
			log.Warn().Err(err).Msgf("poll error %d/%d", errCount, MaxPollErrors)
			if errCount >= MaxPollErrors {
				s.finish(NewReaderError(CodeSessionTerminatedUnexpectedly, err.Error()))
				return
			}
			continue
		}
		errCount = 0

		if len(found) == 0 {
			continue
		}

		select {
		case s.sink.Scans <- Scan{Session: s, Tags: found}:
		case <-s.sink.Done:
			s.finish(NewReaderError(CodeSessionTerminatedUnexpectedly, "sink closed"))
			return
		case <-s.ctx.Done():
			return
		case <-timeout.C:
			s.finish(NewReaderError(CodeSessionTimeout, ""))
			return
		}

		// paused until the consumer is done with the tags
		select {
		case <-s.resume:
		case <-s.ctx.Done():
			return
		case <-timeout.C:
			s.finish(NewReaderError(CodeSessionTimeout, ""))
			return
		}
	}
}

// Sessions tracks the single live session of a reader.
type Sessions struct {
	mu      sync.Mutex
	current *PollingSession
}

// New creates a session for the driver, failing with CodeSystemIsBusy if
// the previous one has not finished.
func (ss *Sessions) New(d Driver, opts SessionOptions, sink Sink) (*PollingSession, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.current != nil && !ss.current.Finished() {
		return nil, NewReaderError(CodeSystemIsBusy, "a session is already active")
	}

	ss.current = NewPollingSession(d, opts, sink)
	return ss.current, nil
}

// Active reports whether a session is live.
func (ss *Sessions) Active() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.current != nil && !ss.current.Finished()
}

// Terminate ends the live session, if any, as an unexpected termination.
// Used when the device is closed.
func (ss *Sessions) Terminate(msg string) {
	ss.mu.Lock()
	s := ss.current
	ss.mu.Unlock()

	if s != nil {
		s.finish(NewReaderError(CodeSessionTerminatedUnexpectedly, msg))
	}
}

// WaitAndWrite polls the driver until a tag is present, then writes message
// to it. Blocks until the write completes or ctx is done.
func WaitAndWrite(ctx context.Context, d Driver, message []byte) (Tag, error) {
	for {
		found, err := d.Poll(ctx)
		if errors.Is(err, ErrDeviceGone) {
			return nil, err
		} else if err != nil {
			log.Warn().Err(err).Msg("poll error while waiting to write")
		}

		if len(found) > 0 {
			tag := found[0]
			log.Info().Msgf("found tag to write: %s", tag.UID())

			err := d.ConnectTag(tag)
			if err != nil {
				return nil, fmt.Errorf("error connecting to tag: %w", err)
			}

			err = tag.WriteNdef(message)
			if err != nil {
				return nil, fmt.Errorf("error writing to tag: %w", err)
			}

			return tag, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrNoTag
		case <-time.After(DefaultPollInterval):
		}
	}
}
