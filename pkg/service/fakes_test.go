package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/relay"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

const waitFor = 2 * time.Second
const tick = time.Millisecond

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward and runs every timer that is due, in
// deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, rest []*fakeTimer
	for _, t := range c.timers {
		if t.stopped {
			continue
		}
		if !t.at.After(c.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].at.Before(due[j].at)
	})
	for _, t := range due {
		t.f()
	}
}

type fakeTag struct {
	mu       sync.Mutex
	uid      string
	status   readers.NdefStatus
	msg      []byte
	queryErr error
	readErr  error
	written  [][]byte
}

func idTag(t *testing.T, uid string, id tokens.Identifier) *fakeTag {
	t.Helper()
	msg, err := tokens.BuildIdMessage(id)
	require.NoError(t, err)
	return &fakeTag{uid: uid, status: readers.NdefReadWrite, msg: msg}
}

func (t *fakeTag) UID() string  { return t.uid }
func (t *fakeTag) Type() string { return tokens.TypeNTAG }

func (t *fakeTag) QueryNdefStatus() (readers.NdefStatus, int, error) {
	return t.status, 144, t.queryErr
}

func (t *fakeTag) ReadNdef() ([]byte, error) {
	if t.readErr != nil {
		return nil, t.readErr
	}
	return t.msg, nil
}

func (t *fakeTag) WriteNdef(message []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = append(t.written, message)
	return nil
}

func (t *fakeTag) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte{}, t.written...)
}

type fakeSession struct {
	id         string
	opts       readers.SessionOptions
	sink       readers.Sink
	connectErr error

	mu          sync.Mutex
	begun       bool
	invalidated bool
	restarts    int
	completed   int
	connects    int
}

func (s *fakeSession) Id() string {
	return s.id
}

func (s *fakeSession) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun = true
	return nil
}

func (s *fakeSession) Connect(readers.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return s.connectErr
}

func (s *fakeSession) RestartPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
}

func (s *fakeSession) CompleteRead() {
	if s.opts.StopAfterFirstRead {
		s.end(readers.NewReaderError(readers.CodeFirstNDEFTagRead, ""))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
}

func (s *fakeSession) Invalidate(msg string) {
	s.end(readers.NewReaderError(readers.CodeUserCanceled, msg))
}

// end finishes the session like the hardware layer would, delivering the
// invalidation from another goroutine.
func (s *fakeSession) end(err *readers.ReaderError) {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	s.mu.Unlock()

	go func() {
		select {
		case s.sink.Invalidations <- readers.Invalidation{Session: s, Err: err}:
		case <-s.sink.Done:
		}
	}()
}

func (s *fakeSession) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun && !s.invalidated
}

func (s *fakeSession) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *fakeSession) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *fakeSession) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

type fakeReader struct {
	mu         sync.Mutex
	available  bool
	sessions   []*fakeSession
	connectErr error
	written    [][]byte
	writeUID   string
}

func newFakeReader() *fakeReader {
	return &fakeReader{available: true, writeUID: "04aabbccdd"}
}

func (r *fakeReader) Ids() []string          { return []string{"fake"} }
func (r *fakeReader) Open(string) error      { return nil }
func (r *fakeReader) Close() error           { return nil }
func (r *fakeReader) Detect([]string) string { return "" }
func (r *fakeReader) Device() string         { return "fake:0" }
func (r *fakeReader) Info() string           { return "fake reader" }

func (r *fakeReader) ReadingAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

func (r *fakeReader) NewSession(opts readers.SessionOptions, sink readers.Sink) (readers.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.live() {
			return nil, readers.NewReaderError(readers.CodeSystemIsBusy, "")
		}
	}

	s := &fakeSession{
		id:         fmt.Sprintf("session-%d", len(r.sessions)+1),
		opts:       opts,
		sink:       sink,
		connectErr: r.connectErr,
	}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *fakeReader) Write(_ context.Context, message []byte) (*tokens.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.live() {
			return nil, readers.NewReaderError(readers.CodeSystemIsBusy, "")
		}
	}

	r.written = append(r.written, message)
	return &tokens.Token{
		Type: tokens.TypeNTAG,
		UID:  r.writeUID,
		Data: hex.EncodeToString(message),
	}, nil
}

func (r *fakeReader) Sessions() []*fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeSession{}, r.sessions...)
}

func (r *fakeReader) Written() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte{}, r.written...)
}

type fakeSource struct {
	r readers.Reader
}

func (f fakeSource) ActiveReader() readers.Reader {
	return f.r
}

type dispatched struct {
	id  tokens.Identifier
	cfg config.Relay
}

type fakeRelayer struct {
	calls chan dispatched
	kind  relay.OutcomeKind
}

func (r *fakeRelayer) Dispatch(id tokens.Identifier, cfg config.Relay, done func(relay.Outcome)) {
	r.calls <- dispatched{id: id, cfg: cfg}
	go done(relay.Outcome{
		Kind:    r.kind,
		Status:  200,
		Request: relay.Request{Role: cfg.Role, Id: id.String()},
		Url:     relay.Endpoint(cfg),
	})
}

type alert struct {
	title   string
	message string
}

type recordingObserver struct {
	mu            sync.Mutex
	started       []SessionInfo
	invalidations []InvalidationCause
	failures      []*CycleFailure
	scanned       []tokens.Token
	outcomes      []relay.Outcome
	alerts        []alert
}

func (o *recordingObserver) SessionStarted(s SessionInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, s)
}

func (o *recordingObserver) SessionInvalidated(_ SessionInfo, cause InvalidationCause) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invalidations = append(o.invalidations, cause)
}

func (o *recordingObserver) CycleFailed(_ SessionInfo, f *CycleFailure) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, f)
}

func (o *recordingObserver) TokenScanned(t tokens.Token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scanned = append(o.scanned, t)
}

func (o *recordingObserver) RelayFinished(_ tokens.Token, out relay.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

func (o *recordingObserver) Alert(title, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, alert{title: title, message: message})
}

func (o *recordingObserver) Alerts() []alert {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]alert{}, o.alerts...)
}

func (o *recordingObserver) Failures() []*CycleFailure {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*CycleFailure{}, o.failures...)
}

func (o *recordingObserver) Invalidations() []InvalidationCause {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]InvalidationCause{}, o.invalidations...)
}

func (o *recordingObserver) Outcomes() []relay.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]relay.Outcome{}, o.outcomes...)
}

type harness struct {
	t       *testing.T
	cfg     *config.UserConfig
	st      *state.State
	clock   *fakeClock
	reader  *fakeReader
	relayer *fakeRelayer
	obs     *recordingObserver
	sup     *Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		cfg:     config.BaseDefaults(),
		st:      state.NewState(),
		clock:   newFakeClock(),
		reader:  newFakeReader(),
		relayer: &fakeRelayer{calls: make(chan dispatched, 16)},
		obs:     &recordingObserver{},
	}

	h.sup = NewSupervisor(SupervisorOptions{
		Config:   h.cfg,
		State:    h.st,
		Readers:  fakeSource{r: h.reader},
		Relayer:  h.relayer,
		Observer: h.obs,
		Clock:    h.clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.sup.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return h
}

// session waits for the nth session (1 based) to be created.
func (h *harness) session(n int) *fakeSession {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.reader.Sessions()) >= n
	}, waitFor, tick)
	return h.reader.Sessions()[n-1]
}

func (h *harness) scan(s *fakeSession, tags ...readers.Tag) {
	s.sink.Scans <- readers.Scan{Session: s, Tags: tags}
}

func (h *harness) invalidate(s *fakeSession, code readers.ErrorCode, msg string) {
	s.end(readers.NewReaderError(code, msg))
}

func (h *harness) waitTimers(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.clock.Pending() == n
	}, waitFor, tick)
}

func (h *harness) waitState(want state.SessionState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.st.GetSession().State == want
	}, waitFor, tick)
}
