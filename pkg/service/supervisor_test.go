package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/relay"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

func (h *harness) waitInvalidations(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.obs.Invalidations()) == n
	}, waitFor, tick)
}

func (h *harness) nextDispatch() dispatched {
	h.t.Helper()
	select {
	case d := <-h.relayer.calls:
		return d
	case <-time.After(waitFor):
		h.t.Fatal("nothing was relayed")
		return dispatched{}
	}
}

// barrier returns once the loop has handled everything posted before it.
// Unknown commands are rejected without side effects.
func (h *harness) barrier() {
	_ = h.sup.command(command{kind: commandKind(-1)})
}

func TestStartSingleSession(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.Start())
	assert.ErrorIs(t, h.sup.Start(), ErrSessionConflict)

	assert.Len(t, h.reader.Sessions(), 1)
	assert.Equal(t, state.SessionActive, h.st.GetSession().State)
	assert.Equal(t, uint64(1), h.st.GetSession().Generation)
	assert.Equal(t, "session-1", h.st.GetSession().Id)
}

func TestStartSessionOptions(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetStopAfterFirstRead(true)

	require.NoError(t, h.sup.Start())
	s := h.session(1)
	assert.Equal(t, 60*time.Second, s.opts.Timeout)
	assert.True(t, s.opts.StopAfterFirstRead)
	assert.NotEmpty(t, s.opts.Message)
}

func TestStartUnsupportedDevice(t *testing.T) {
	h := newHarness(t)
	h.reader.available = false

	assert.ErrorIs(t, h.sup.Start(), ErrDeviceUnsupported)
	assert.Empty(t, h.reader.Sessions())
	assert.Equal(t, state.SessionIdle, h.st.GetSession().State)
	assert.Equal(t, []alert{{title: AlertUnsupportedTitle, message: AlertUnsupportedMsg}}, h.obs.Alerts())
}

func TestStartNoReader(t *testing.T) {
	obs := &recordingObserver{}
	sup := NewSupervisor(SupervisorOptions{
		Config:   config.BaseDefaults(),
		Relayer:  &fakeRelayer{calls: make(chan dispatched, 1)},
		Observer: obs,
		Clock:    newFakeClock(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(ctx)
	}()

	assert.ErrorIs(t, sup.Start(), ErrDeviceUnsupported)
	_, err := sup.WriteTag(context.Background(), 5)
	assert.ErrorIs(t, err, readers.ErrNotConnected)

	cancel()
	<-done

	assert.ErrorIs(t, sup.Start(), ErrNotRunning)
	assert.ErrorIs(t, sup.Stop(), ErrNotRunning)
}

func TestTimeoutRestarts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	h.invalidate(a, readers.CodeSessionTimeout, "")
	h.waitTimers(1)
	assert.Equal(t, state.SessionIdle, h.st.GetSession().State)

	h.clock.Advance(RestartDelay - time.Millisecond)
	h.barrier()
	assert.Len(t, h.reader.Sessions(), 1)

	h.clock.Advance(time.Millisecond)
	b := h.session(2)
	assert.True(t, b.live())
	assert.Equal(t, []InvalidationCause{{Kind: CauseTimeout}}, h.obs.Invalidations())
	assert.Empty(t, h.obs.Alerts())
	h.waitState(state.SessionActive)
	assert.Equal(t, uint64(2), h.st.GetSession().Generation)
}

func TestOtherInvalidationAlertsAndRestarts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	h.invalidate(a, readers.CodeSessionTerminatedUnexpectedly, "device disconnected")
	h.waitTimers(1)

	want := "session terminated unexpectedly: device disconnected"
	assert.Equal(t, []alert{{title: AlertInvalidatedTitle, message: want}}, h.obs.Alerts())
	assert.Equal(t, []InvalidationCause{{Kind: CauseOther, Message: want}}, h.obs.Invalidations())

	h.clock.Advance(RestartDelay)
	h.session(2)
}

func TestRestartWithoutReaderDoesNotAlert(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	h.reader.mu.Lock()
	h.reader.available = false
	h.reader.mu.Unlock()
	h.invalidate(a, readers.CodeSessionTerminatedUnexpectedly, "device disconnected")
	h.waitTimers(1)

	h.clock.Advance(RestartDelay)
	h.barrier()
	assert.Len(t, h.reader.Sessions(), 1)
	alerts := h.obs.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertInvalidatedTitle, alerts[0].title)
	assert.Equal(t, state.SessionIdle, h.st.GetSession().State)

	// an explicit start still reports the missing reader
	assert.ErrorIs(t, h.sup.Start(), ErrDeviceUnsupported)
	assert.Len(t, h.obs.Alerts(), 2)
}

func TestTerminalCausesDoNotRestart(t *testing.T) {
	tests := map[string]struct {
		code readers.ErrorCode
		kind CauseKind
	}{
		"user cancelled": {code: readers.CodeUserCanceled, kind: CauseUserCancelled},
		"first read":     {code: readers.CodeFirstNDEFTagRead, kind: CauseFirstTagRead},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.sup.Start())
			a := h.session(1)

			h.invalidate(a, tc.code, "")
			h.waitInvalidations(1)
			assert.Equal(t, tc.kind, h.obs.Invalidations()[0].Kind)

			h.clock.Advance(10 * RestartDelay)
			h.barrier()
			assert.Zero(t, h.clock.Pending())
			assert.Len(t, h.reader.Sessions(), 1)
			assert.Empty(t, h.obs.Alerts())
			assert.Equal(t, state.SessionIdle, h.st.GetSession().State)

			// a manual start still works
			require.NoError(t, h.sup.Start())
			h.session(2)
		})
	}
}

func TestStaleResumeGuard(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	// resume for a is pending
	h.scan(a)
	h.waitTimers(1)

	require.NoError(t, h.sup.Stop())
	h.waitInvalidations(1)
	require.NoError(t, h.sup.Start())
	b := h.session(2)

	// late scan from a is ignored
	tag := idTag(t, "04a1", 1)
	h.scan(a, tag)

	h.clock.Advance(ResumeDelay)
	h.barrier()
	assert.Zero(t, a.Restarts())
	assert.Zero(t, b.Restarts())
	assert.Zero(t, a.Connects())
	assert.Zero(t, h.clock.Pending())

	h.scan(b)
	h.waitTimers(1)
	h.clock.Advance(ResumeDelay)
	require.Eventually(t, func() bool {
		return b.Restarts() == 1
	}, waitFor, tick)
	assert.Zero(t, a.Restarts())
}

func TestStopCancelsPendingRestart(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	h.invalidate(a, readers.CodeSessionTimeout, "")
	h.waitTimers(1)
	require.NoError(t, h.sup.Stop())

	h.clock.Advance(RestartDelay)
	h.barrier()
	assert.Len(t, h.reader.Sessions(), 1)
	assert.Equal(t, state.SessionIdle, h.st.GetSession().State)
}

func TestStopWhenIdle(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.sup.Stop())
}

func TestKick(t *testing.T) {
	h := newHarness(t)

	h.cfg.SetAutoStart(false)
	h.sup.Kick()
	assert.Empty(t, h.reader.Sessions())

	h.cfg.SetAutoStart(true)
	h.sup.Kick()
	a := h.session(1)
	h.sup.Kick()
	assert.Len(t, h.reader.Sessions(), 1)

	require.NoError(t, h.sup.Stop())
	h.waitInvalidations(1)
	assert.Equal(t, CauseUserCancelled, h.obs.Invalidations()[0].Kind)
	assert.False(t, a.live())

	h.sup.Kick()
	assert.Len(t, h.reader.Sessions(), 1)
}

func TestScenarioRelaySuccess(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.cfg.SetRelay(config.Relay{Host: "10.0.0.5", Port: "9000", Role: "guard"}))
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	h.scan(a, idTag(t, "04a1b2", 42))

	got := h.nextDispatch()
	assert.Equal(t, tokens.Identifier(42), got.id)
	assert.Equal(t, "http://10.0.0.5:9000/", relay.Endpoint(got.cfg))
	req, err := relay.BuildRequest(got.id, got.cfg)
	require.NoError(t, err)
	assert.Equal(t, relay.Request{Role: "guard", Id: "42"}, req)

	h.waitTimers(1)
	h.clock.Advance(ResumeDelay - time.Millisecond)
	h.barrier()
	assert.Zero(t, a.Completed())
	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		return a.Completed() == 1
	}, waitFor, tick)
	assert.Zero(t, a.Restarts())

	require.Eventually(t, func() bool {
		return len(h.obs.Outcomes()) == 1
	}, waitFor, tick)
	assert.Equal(t, relay.OutcomeSuccess, h.obs.Outcomes()[0].Kind)
	assert.Empty(t, h.obs.Alerts())
	assert.Empty(t, h.obs.Failures())
	assert.Equal(t, state.SessionActive, h.st.GetSession().State)
}

func TestScenarioEmptyScan(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	h.scan(a)
	h.waitTimers(1)
	h.clock.Advance(ResumeDelay)
	require.Eventually(t, func() bool {
		return a.Restarts() == 1
	}, waitFor, tick)

	assert.Zero(t, a.Connects())
	assert.Empty(t, h.obs.Failures())
	assert.Empty(t, h.relayer.calls)
}

func TestScenarioReadError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	tag := idTag(t, "04a1", 42)
	tag.readErr = errors.New("transceive failed")
	h.scan(a, tag)
	h.waitTimers(1)

	fs := h.obs.Failures()
	require.Len(t, fs, 1)
	assert.Equal(t, StageRead, fs[0].Stage)
	assert.Equal(t, "04a1", fs[0].UID)
	assert.Equal(t, state.SessionActive, h.st.GetSession().State)
	assert.True(t, a.live())

	h.clock.Advance(ResumeDelay)
	require.Eventually(t, func() bool {
		return a.Restarts() == 1
	}, waitFor, tick)
	assert.Len(t, h.reader.Sessions(), 1)
	assert.Empty(t, h.relayer.calls)
	assert.Empty(t, h.obs.Invalidations())
}

func TestCycleFailureStages(t *testing.T) {
	notJson, err := tokens.BuildPayloadMessage([]byte("hello"))
	require.NoError(t, err)

	tests := map[string]struct {
		setup func(h *harness, tag *fakeTag)
		stage Stage
		is    error
	}{
		"connect": {
			setup: func(h *harness, _ *fakeTag) { h.reader.connectErr = errors.New("gone") },
			stage: StageConnect,
		},
		"query error": {
			setup: func(_ *harness, tag *fakeTag) { tag.queryErr = errors.New("no answer") },
			stage: StageQuery,
		},
		"not ndef": {
			setup: func(_ *harness, tag *fakeTag) { tag.status = readers.NdefNotSupported },
			stage: StageQuery,
			is:    readers.ErrTagNotSupported,
		},
		"blank": {
			setup: func(_ *harness, tag *fakeTag) { tag.readErr = readers.ErrNoNdef },
			stage: StageRead,
			is:    readers.ErrNoNdef,
		},
		"empty message": {
			setup: func(_ *harness, tag *fakeTag) { tag.msg = []byte{} },
			stage: StageParse,
			is:    tokens.ErrNoRecords,
		},
		"not json": {
			setup: func(_ *harness, tag *fakeTag) { tag.msg = notJson },
			stage: StageParse,
			is:    tokens.ErrPayloadMalformed,
		},
		"rejected id": {
			setup: func(h *harness, tag *fakeTag) {
				h.cfg.SetRejectNonPositiveIds(true)
				msg, _ := tokens.BuildIdMessage(0)
				tag.msg = msg
			},
			stage: StageParse,
			is:    ErrIdRejected,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			tag := idTag(t, "04a1", 42)
			tc.setup(h, tag)

			require.NoError(t, h.sup.Start())
			a := h.session(1)
			h.scan(a, tag)
			h.waitTimers(1)

			fs := h.obs.Failures()
			require.Len(t, fs, 1)
			assert.Equal(t, tc.stage, fs[0].Stage)
			if tc.is != nil {
				assert.ErrorIs(t, fs[0], tc.is)
			}
			assert.Empty(t, h.relayer.calls)
			assert.True(t, a.live())
		})
	}
}

func TestFirstReadSurvivesFailedCycle(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetStopAfterFirstRead(true)
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	bad := idTag(t, "04a1", 42)
	bad.readErr = readers.ErrNoNdef
	h.scan(a, bad)
	h.waitTimers(1)
	h.clock.Advance(ResumeDelay)
	require.Eventually(t, func() bool {
		return a.Restarts() == 1
	}, waitFor, tick)

	assert.True(t, a.live())
	assert.Empty(t, h.obs.Invalidations())
	require.Len(t, h.obs.Failures(), 1)
	assert.Equal(t, StageRead, h.obs.Failures()[0].Stage)

	h.scan(a, idTag(t, "04b2", 7))
	assert.Equal(t, tokens.Identifier(7), h.nextDispatch().id)
	h.waitTimers(1)
	h.clock.Advance(ResumeDelay)
	h.waitInvalidations(1)
	assert.Equal(t, CauseFirstTagRead, h.obs.Invalidations()[0].Kind)
	assert.False(t, a.live())

	h.clock.Advance(10 * RestartDelay)
	h.barrier()
	assert.Len(t, h.reader.Sessions(), 1)
}

func TestNonPositiveIdsRelayedByDefault(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	a := h.session(1)

	h.scan(a, idTag(t, "04a1", -3))
	got := h.nextDispatch()
	assert.Equal(t, tokens.Identifier(-3), got.id)
	assert.Equal(t, config.Relay{
		Host: config.DefaultRelayHost,
		Port: config.DefaultRelayPort,
		Role: config.DefaultRelayRole,
	}, got.cfg)
}

func TestFormatBlankTags(t *testing.T) {
	tests := map[string]struct {
		enabled bool
		status  readers.NdefStatus
		written bool
	}{
		"disabled":  {enabled: false, status: readers.NdefReadWrite},
		"writable":  {enabled: true, status: readers.NdefReadWrite, written: true},
		"read only": {enabled: true, status: readers.NdefReadOnly},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.cfg.SetFormatBlankTags(tc.enabled)
			require.NoError(t, h.sup.Start())
			a := h.session(1)

			tag := &fakeTag{uid: "04a1", status: tc.status, readErr: readers.ErrNoNdef}
			h.scan(a, tag)
			h.waitTimers(1)

			if tc.written {
				assert.Equal(t, [][]byte{tokens.BuildBlankMessage()}, tag.Written())
			} else {
				assert.Empty(t, tag.Written())
			}
			require.Len(t, h.obs.Failures(), 1)
			assert.Equal(t, StageRead, h.obs.Failures()[0].Stage)
		})
	}
}

func TestWriteTagPausesSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	h.session(1)

	token, err := h.sup.WriteTag(context.Background(), 77)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, tokens.Identifier(77), token.ID)
	assert.Equal(t, h.reader.writeUID, token.UID)

	msg, err := tokens.BuildIdMessage(77)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{msg}, h.reader.Written())

	b := h.session(2)
	assert.Equal(t, []InvalidationCause{{Kind: CauseUserCancelled}}, h.obs.Invalidations())
	assert.Empty(t, h.obs.Alerts())

	// the written tag is not relayed on its next read
	tag := &fakeTag{uid: h.reader.writeUID, status: readers.NdefReadWrite, msg: msg}
	h.scan(b, tag)
	h.waitTimers(1)
	assert.Empty(t, h.relayer.calls)
	assert.Nil(t, h.st.GetWroteToken())

	h.clock.Advance(ResumeDelay)
	require.Eventually(t, func() bool {
		return b.Completed() == 1
	}, waitFor, tick)

	h.scan(b, tag)
	assert.Equal(t, tokens.Identifier(77), h.nextDispatch().id)
}

func TestWriteTagWhileIdle(t *testing.T) {
	h := newHarness(t)

	token, err := h.sup.WriteTag(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, tokens.Identifier(5), token.ID)
	assert.Len(t, h.reader.Written(), 1)

	h.barrier()
	assert.Empty(t, h.reader.Sessions())
}

func TestWriteTagAfterStopDoesNotResume(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Start())
	h.session(1)
	require.NoError(t, h.sup.Stop())
	h.waitInvalidations(1)

	_, err := h.sup.WriteTag(context.Background(), 5)
	require.NoError(t, err)
	h.barrier()
	assert.Len(t, h.reader.Sessions(), 1)
}

func TestWriteTagInvalidId(t *testing.T) {
	h := newHarness(t)
	for _, id := range []tokens.Identifier{0, -1} {
		_, err := h.sup.WriteTag(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidId)
	}
	assert.Empty(t, h.reader.Written())
}
