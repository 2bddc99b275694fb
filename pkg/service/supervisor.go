package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/relay"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

const (
	// ResumeDelay is the pause after each scan cycle before the session
	// polls again.
	ResumeDelay = 500 * time.Millisecond
	// RestartDelay is the pause before a new session replaces one that
	// ended with a timeout or reader fault.
	RestartDelay = 500 * time.Millisecond
)

const sessionMessage = "Hold a tag near the reader"

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ReaderSource picks the reader new sessions run on.
type ReaderSource interface {
	ActiveReader() readers.Reader
}

// Relayer sends identifiers without blocking the caller.
type Relayer interface {
	Dispatch(id tokens.Identifier, cfg config.Relay, done func(relay.Outcome))
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdWrite
	cmdKick
)

type command struct {
	kind  commandKind
	write *writeJob
	reply chan error
}

// resume is a scheduled continuation of the session started in gen. read
// is set when the cycle before it produced a token.
type resume struct {
	gen  uint64
	read bool
}

type writeJob struct {
	ctx     context.Context
	id      tokens.Identifier
	message []byte
	reader  readers.Reader
	resume  bool
	reply   chan writeResult
}

type writeResult struct {
	job   *writeJob
	token *tokens.Token
	err   error
}

type SupervisorOptions struct {
	Config   *config.UserConfig
	State    *state.State
	Readers  ReaderSource
	Relayer  Relayer
	Observer Observer
	// Clock defaults to the system clock.
	Clock Clock
}

// Supervisor owns the scan session lifecycle. All session state is held by
// the Run loop and every event reaches it as a message, so there is only
// ever one writer.
type Supervisor struct {
	cfg     *config.UserConfig
	st      *state.State
	readers ReaderSource
	relayer Relayer
	obs     Observer
	clock   Clock

	cmds          chan command
	scans         chan readers.Scan
	invalidations chan readers.Invalidation
	cycles        chan cycleResult
	resumes       chan resume
	restarts      chan uint64
	writes        chan writeResult
	done          chan struct{}

	// owned by Run
	gen          uint64
	current      *scanSession
	restartSeq   uint64
	stopped      bool
	writing      bool
	pendingWrite *writeJob
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Observer == nil {
		opts.Observer = LogObserver{}
	}
	if opts.State == nil {
		opts.State = state.NewState()
	}

	return &Supervisor{
		cfg:           opts.Config,
		st:            opts.State,
		readers:       opts.Readers,
		relayer:       opts.Relayer,
		obs:           opts.Observer,
		clock:         opts.Clock,
		cmds:          make(chan command),
		scans:         make(chan readers.Scan),
		invalidations: make(chan readers.Invalidation),
		cycles:        make(chan cycleResult),
		resumes:       make(chan resume),
		restarts:      make(chan uint64),
		writes:        make(chan writeResult),
		done:          make(chan struct{}),
	}
}

func post[T any](ch chan<- T, v T, done <-chan struct{}) {
	select {
	case ch <- v:
	case <-done:
	}
}

func (s *Supervisor) command(c command) error {
	c.reply = make(chan error, 1)

	select {
	case s.cmds <- c:
	case <-s.done:
		return ErrNotRunning
	}

	select {
	case err := <-c.reply:
		return err
	case <-s.done:
		return ErrNotRunning
	}
}

// Start begins a scan session. It returns ErrSessionConflict if one is
// already active and ErrDeviceUnsupported if no reader can scan.
func (s *Supervisor) Start() error {
	return s.command(command{kind: cmdStart})
}

// Stop ends the active session and cancels any pending restart. Scanning
// stays stopped until the next Start.
func (s *Supervisor) Stop() error {
	return s.command(command{kind: cmdStop})
}

// Kick starts a session if scanning should be running but is not, for
// example after a reader was connected.
func (s *Supervisor) Kick() {
	err := s.command(command{kind: cmdKick})
	if err != nil && !errors.Is(err, ErrNotRunning) {
		log.Debug().Err(err).Msg("kick did not start a session")
	}
}

// WriteTag waits for a tag and writes an identifier to it. An active session
// is paused for the write and resumed afterwards. The written tag is not
// relayed when it is next scanned.
func (s *Supervisor) WriteTag(ctx context.Context, id tokens.Identifier) (*tokens.Token, error) {
	if id <= 0 {
		return nil, ErrInvalidId
	}

	msg, err := tokens.BuildIdMessage(id)
	if err != nil {
		return nil, err
	}

	job := &writeJob{
		ctx:     ctx,
		id:      id,
		message: msg,
		reply:   make(chan writeResult, 1),
	}

	err = s.command(command{kind: cmdWrite, write: job})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-job.reply:
		return res.token, res.err
	case <-s.done:
		return nil, ErrNotRunning
	}
}

func (s *Supervisor) sink() readers.Sink {
	return readers.Sink{
		Scans:         s.scans,
		Invalidations: s.invalidations,
		Done:          s.done,
	}
}

// Run is the control loop. It returns when ctx is done, ending any active
// session. It must only be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			if s.current != nil {
				s.current.session.Invalidate("service stopping")
				s.current = nil
			}
			s.st.SetSession(state.Session{State: state.SessionIdle, Generation: s.gen})
			return nil
		case c := <-s.cmds:
			c.reply <- s.handleCommand(c)
		case scan := <-s.scans:
			s.handleScan(scan)
		case res := <-s.cycles:
			s.handleCycle(res)
		case r := <-s.resumes:
			s.handleResume(r)
		case inv := <-s.invalidations:
			s.handleInvalidation(inv)
		case seq := <-s.restarts:
			s.handleRestart(seq)
		case res := <-s.writes:
			s.handleWrite(res)
		}
	}
}

func (s *Supervisor) handleCommand(c command) error {
	switch c.kind {
	case cmdStart:
		s.stopped = false
		return s.start()
	case cmdStop:
		s.stopped = true
		s.restartSeq++
		if s.pendingWrite != nil {
			s.pendingWrite.resume = false
		}
		if s.current == nil {
			return nil
		}
		log.Info().Msg("stopping scan session")
		s.current.session.Invalidate("stopped by operator")
		return nil
	case cmdKick:
		if s.stopped || s.current != nil || s.writing || s.pendingWrite != nil {
			return nil
		}
		if !s.cfg.GetAutoStart() {
			return nil
		}
		return s.start()
	case cmdWrite:
		return s.queueWrite(c.write)
	default:
		return fmt.Errorf("unknown command: %d", c.kind)
	}
}

func (s *Supervisor) start() error {
	return s.begin(true)
}

// begin starts a new session. alert controls whether a missing reader is
// raised to the user or only logged.
func (s *Supervisor) begin(alert bool) error {
	if s.current != nil {
		log.Info().Msg("scan session already active, ignoring start")
		return ErrSessionConflict
	}
	if s.writing || s.pendingWrite != nil {
		return ErrWriteInProgress
	}

	var rd readers.Reader
	if s.readers != nil {
		rd = s.readers.ActiveReader()
	}
	if rd == nil || !rd.ReadingAvailable() {
		log.Error().Msg("no reader available for scanning")
		if alert {
			s.obs.Alert(AlertUnsupportedTitle, AlertUnsupportedMsg)
		}
		return ErrDeviceUnsupported
	}

	s.gen++
	sess, err := rd.NewSession(readers.SessionOptions{
		Timeout:            s.cfg.GetSessionTimeout(),
		StopAfterFirstRead: s.cfg.GetStopAfterFirstRead(),
		Message:            sessionMessage,
	}, s.sink())
	if err != nil {
		return fmt.Errorf("error creating session: %w", err)
	}

	err = sess.Begin()
	if err != nil {
		return fmt.Errorf("error beginning session: %w", err)
	}

	s.current = &scanSession{
		gen:     s.gen,
		session: sess,
		reader:  rd,
		started: s.clock.Now(),
	}

	info := s.current.info()
	s.st.SetSession(state.Session{
		State:      state.SessionActive,
		Generation: info.Gen,
		Id:         info.Id,
		Device:     info.Device,
		Started:    info.Started,
	})
	s.obs.SessionStarted(info)

	return nil
}

func (s *Supervisor) isCurrent(sess readers.Session) bool {
	return s.current != nil && s.current.session == sess
}

func (s *Supervisor) handleScan(scan readers.Scan) {
	if !s.isCurrent(scan.Session) {
		log.Debug().Msg("ignoring scan from stale session")
		return
	}

	sess := s.current
	if len(scan.Tags) == 0 {
		s.scheduleResume(sess.gen, false)
		return
	}

	pol := cyclePolicy{
		formatBlankTags:      s.cfg.GetFormatBlankTags(),
		rejectNonPositiveIds: s.cfg.GetRejectNonPositiveIds(),
	}

	go func() {
		res := runCycle(sess, scan.Tags, pol, s.st, s.clock.Now)
		post(s.cycles, res, s.done)
	}()
}

func (s *Supervisor) handleCycle(res cycleResult) {
	info := res.sess.info()

	if res.err != nil {
		var cf *CycleFailure
		if !errors.As(res.err, &cf) {
			cf = &CycleFailure{Stage: StageRead, Err: res.err}
		}
		s.obs.CycleFailed(info, cf)
	} else if res.token != nil {
		s.report(res.sess.gen, *res.token)
	}

	s.st.SetStage(res.sess.gen, state.SessionActive)
	s.scheduleResume(res.sess.gen, res.err == nil && res.token != nil)
}

func (s *Supervisor) report(gen uint64, token tokens.Token) {
	wt := s.st.GetWroteToken()
	s.st.SetWroteToken(nil)
	if wt != nil && tokens.TokensEqual(&token, wt) {
		log.Info().Msgf("skipping relay of just written tag: %s", token.UID)
		return
	}

	s.st.SetStage(gen, state.SessionReporting)
	s.obs.TokenScanned(token)

	cfg := s.cfg.GetRelay()
	s.relayer.Dispatch(token.ID, cfg, func(o relay.Outcome) {
		s.obs.RelayFinished(token, o)
	})
}

func (s *Supervisor) scheduleResume(gen uint64, read bool) {
	s.clock.AfterFunc(ResumeDelay, func() {
		post(s.resumes, resume{gen: gen, read: read}, s.done)
	})
}

// handleResume continues the session the resume was scheduled for. Only a
// successful read can end a first-read session.
func (s *Supervisor) handleResume(r resume) {
	if s.current == nil || s.current.gen != r.gen {
		log.Debug().Msgf("dropping resume for stale session generation %d", r.gen)
		return
	}
	if r.read {
		s.current.session.CompleteRead()
	} else {
		s.current.session.RestartPolling()
	}
}

func (s *Supervisor) handleInvalidation(inv readers.Invalidation) {
	if !s.isCurrent(inv.Session) {
		log.Debug().Err(inv.Err).Msg("ignoring invalidation of stale session")
		return
	}

	info := s.current.info()
	s.current = nil
	cause := ClassifyInvalidation(inv.Err)

	s.st.SetSession(state.Session{State: state.SessionInvalidated, Generation: info.Gen, Id: info.Id})
	s.obs.SessionInvalidated(info, cause)
	s.st.SetSession(state.Session{State: state.SessionIdle, Generation: info.Gen})

	if s.pendingWrite != nil {
		job := s.pendingWrite
		s.pendingWrite = nil
		s.beginWrite(job)
		return
	}

	switch cause.Kind {
	case CauseTimeout:
		s.scheduleRestart()
	case CauseOther:
		s.obs.Alert(AlertInvalidatedTitle, cause.Message)
		s.scheduleRestart()
	default:
		// terminal until started again
		s.stopped = true
	}
}

func (s *Supervisor) scheduleRestart() {
	s.restartSeq++
	seq := s.restartSeq
	s.clock.AfterFunc(RestartDelay, func() {
		post(s.restarts, seq, s.done)
	})
}

func (s *Supervisor) handleRestart(seq uint64) {
	if seq != s.restartSeq || s.current != nil || s.stopped || s.writing {
		log.Debug().Msgf("dropping stale restart %d", seq)
		return
	}

	// the invalidation was already alerted
	err := s.begin(false)
	if err != nil {
		log.Error().Err(err).Msg("error restarting scan session")
	}
}

func (s *Supervisor) queueWrite(job *writeJob) error {
	if s.writing || s.pendingWrite != nil {
		return ErrWriteInProgress
	}

	var rd readers.Reader
	if s.readers != nil {
		rd = s.readers.ActiveReader()
	}
	if rd == nil {
		return readers.ErrNotConnected
	}
	job.reader = rd

	if s.current == nil {
		s.beginWrite(job)
		return nil
	}

	// the reader refuses writes while a session is live
	log.Info().Msg("pausing scan session to write tag")
	job.resume = !s.stopped
	s.pendingWrite = job
	s.restartSeq++
	s.current.session.Invalidate("writing tag")

	return nil
}

func (s *Supervisor) beginWrite(job *writeJob) {
	s.writing = true
	go func() {
		token, err := job.reader.Write(job.ctx, job.message)
		post(s.writes, writeResult{job: job, token: token, err: err}, s.done)
	}()
}

func (s *Supervisor) handleWrite(res writeResult) {
	s.writing = false

	if res.err != nil {
		log.Error().Err(res.err).Msg("error writing tag")
	} else if res.token != nil {
		res.token.ID = res.job.id
		log.Info().Msgf("wrote id %s to tag %s", res.job.id, res.token.UID)
		s.st.SetWroteToken(res.token)
	}

	res.job.reply <- res

	if res.job.resume && !s.stopped {
		err := s.start()
		if err != nil {
			log.Error().Err(err).Msg("error resuming scan session after write")
		}
	}
}
