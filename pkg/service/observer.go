package service

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/database"
	"github.com/wizzomafizzo/taprelay/pkg/metrics"
	"github.com/wizzomafizzo/taprelay/pkg/platforms"
	"github.com/wizzomafizzo/taprelay/pkg/relay"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

const (
	AlertUnsupportedTitle = "Scanning Not Supported"
	AlertUnsupportedMsg   = "This device does not support tag scanning."
	AlertInvalidatedTitle = "Session Invalidated"
)

type SessionInfo struct {
	Gen     uint64
	Id      string
	Device  string
	Started time.Time
}

// Observer receives advisory events from the supervisor. None of them
// affect control flow. RelayFinished is called from the relay goroutine,
// everything else from the supervisor loop, so implementations must not
// block.
type Observer interface {
	SessionStarted(s SessionInfo)
	SessionInvalidated(s SessionInfo, cause InvalidationCause)
	CycleFailed(s SessionInfo, f *CycleFailure)
	TokenScanned(t tokens.Token)
	RelayFinished(t tokens.Token, o relay.Outcome)
	Alert(title, message string)
}

// Observers fans events out to each observer in order.
type Observers []Observer

func (obs Observers) SessionStarted(s SessionInfo) {
	for _, o := range obs {
		o.SessionStarted(s)
	}
}

func (obs Observers) SessionInvalidated(s SessionInfo, cause InvalidationCause) {
	for _, o := range obs {
		o.SessionInvalidated(s, cause)
	}
}

func (obs Observers) CycleFailed(s SessionInfo, f *CycleFailure) {
	for _, o := range obs {
		o.CycleFailed(s, f)
	}
}

func (obs Observers) TokenScanned(t tokens.Token) {
	for _, o := range obs {
		o.TokenScanned(t)
	}
}

func (obs Observers) RelayFinished(t tokens.Token, out relay.Outcome) {
	for _, o := range obs {
		o.RelayFinished(t, out)
	}
}

func (obs Observers) Alert(title, message string) {
	for _, o := range obs {
		o.Alert(title, message)
	}
}

type LogObserver struct{}

func (LogObserver) SessionStarted(s SessionInfo) {
	log.Info().
		Uint64("gen", s.Gen).
		Str("session", s.Id).
		Str("device", s.Device).
		Msg("scan session started")
}

func (LogObserver) SessionInvalidated(s SessionInfo, cause InvalidationCause) {
	ev := log.Info()
	if cause.Kind == CauseOther {
		ev = log.Error()
	}
	ev.Uint64("gen", s.Gen).
		Str("session", s.Id).
		Str("cause", cause.String()).
		Bool("restart", cause.Restarts()).
		Msg("scan session invalidated")
}

func (LogObserver) CycleFailed(s SessionInfo, f *CycleFailure) {
	log.Error().
		Uint64("gen", s.Gen).
		Str("stage", f.Stage.String()).
		Str("uid", f.UID).
		Err(f.Err).
		Msg("scan cycle failed")
}

func (LogObserver) TokenScanned(t tokens.Token) {
	log.Info().
		Str("uid", t.UID).
		Str("type", t.Type).
		Int64("id", int64(t.ID)).
		Msg("tag scanned")
}

func (LogObserver) RelayFinished(t tokens.Token, o relay.Outcome) {
	ev := log.Info()
	if o.Kind != relay.OutcomeSuccess {
		ev = log.Error()
	}
	ev.Str("url", o.Url).
		Str("id", o.Request.Id).
		Str("role", o.Request.Role).
		Dur("duration", o.Duration).
		Msgf("relay %s", o)
}

func (LogObserver) Alert(title, message string) {
	log.Warn().Msgf("alert: %s: %s", title, message)
}

// stateObserver publishes events to API clients and shows alerts on the
// platform.
type stateObserver struct {
	st *state.State
	pl platforms.Platform
}

func (o stateObserver) SessionStarted(SessionInfo) {}

func (o stateObserver) SessionInvalidated(SessionInfo, InvalidationCause) {}

func (o stateObserver) CycleFailed(SessionInfo, *CycleFailure) {}

func (o stateObserver) TokenScanned(t tokens.Token) {
	o.st.SetLastToken(t)
}

func (o stateObserver) RelayFinished(_ tokens.Token, out relay.Outcome) {
	o.st.SetLastRelay(out)
}

func (o stateObserver) Alert(title, message string) {
	o.st.Alert(title, message)
	if o.pl == nil {
		return
	}
	// dialogs can block until dismissed
	go func() {
		err := o.pl.ShowAlert(title, message)
		if err != nil {
			log.Warn().Err(err).Msg("error showing alert")
		}
	}()
}

type metricsObserver struct {
	m *metrics.Manager
}

func (o metricsObserver) SessionStarted(SessionInfo) {
	o.m.SessionStarted()
}

func (o metricsObserver) SessionInvalidated(s SessionInfo, cause InvalidationCause) {
	o.m.SessionEnded(cause.Kind.String(), time.Since(s.Started))
}

func (o metricsObserver) CycleFailed(_ SessionInfo, f *CycleFailure) {
	o.m.CycleFailed(f.Stage.String())
}

func (o metricsObserver) TokenScanned(tokens.Token) {
	o.m.TokenScanned()
}

func (o metricsObserver) RelayFinished(_ tokens.Token, out relay.Outcome) {
	o.m.RelayFinished(out.Kind.String(), out.Duration)
}

func (o metricsObserver) Alert(title, _ string) {
	o.m.Alert(title)
}

// historyObserver records cycles and relay outcomes in the database.
type historyObserver struct {
	db *database.Database
}

func (o historyObserver) SessionStarted(SessionInfo) {}

func (o historyObserver) SessionInvalidated(SessionInfo, InvalidationCause) {}

func (o historyObserver) CycleFailed(s SessionInfo, f *CycleFailure) {
	err := o.db.AddHistory(database.HistoryEntry{
		Time:      time.Now(),
		SessionId: s.Id,
		Device:    s.Device,
		UID:       f.UID,
		Stage:     f.Stage.String(),
		Error:     f.Err.Error(),
		Success:   false,
	})
	if err != nil {
		log.Error().Err(err).Msg("error adding history")
	}
}

func (o historyObserver) TokenScanned(t tokens.Token) {
	id := int64(t.ID)
	err := o.db.AddHistory(database.HistoryEntry{
		Time:      t.ScanTime,
		SessionId: t.SessionID,
		Device:    t.Source,
		UID:       t.UID,
		Type:      t.Type,
		Data:      t.Data,
		Id:        &id,
		Success:   true,
	})
	if err != nil {
		log.Error().Err(err).Msg("error adding history")
	}
}

func (o historyObserver) RelayFinished(t tokens.Token, out relay.Outcome) {
	entry := database.RelayEntry{
		Time:       out.Sent,
		SessionId:  t.SessionID,
		UID:        t.UID,
		Url:        out.Url,
		Role:       out.Request.Role,
		Id:         out.Request.Id,
		Outcome:    out.Kind.String(),
		Status:     out.Status,
		DurationMs: out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		entry.Error = out.Err.Error()
	}

	err := o.db.AddRelay(entry)
	if err != nil {
		log.Error().Err(err).Msg("error adding relay history")
	}
}

func (o historyObserver) Alert(string, string) {}
