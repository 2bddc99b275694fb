package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api/models"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/relay"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
	"golang.org/x/exp/slices"
)

type SessionState string

const (
	SessionIdle        SessionState = "idle"
	SessionActive      SessionState = "active"
	SessionConnecting  SessionState = "connecting"
	SessionQuerying    SessionState = "querying"
	SessionReading     SessionState = "reading"
	SessionParsing     SessionState = "parsing"
	SessionReporting   SessionState = "reporting"
	SessionInvalidated SessionState = "invalidated"
)

// NotificationQueueSize is how many notifications can be pending before new
// ones are dropped.
const NotificationQueueSize = 64

// Session is a snapshot of the scan session as seen by observers.
type Session struct {
	State      SessionState
	Generation uint64
	Id         string
	Device     string
	Started    time.Time
}

type State struct {
	mu            sync.RWMutex
	session       Session
	lastToken     *tokens.Token
	wroteToken    *tokens.Token
	lastRelay     *relay.Outcome
	readers       map[string]readers.Reader
	notifications chan models.Notification
}

func NewState() *State {
	return &State{
		session:       Session{State: SessionIdle},
		readers:       make(map[string]readers.Reader),
		notifications: make(chan models.Notification, NotificationQueueSize),
	}
}

// Notifications is the queue of events for API clients. It must be drained
// or notifications are dropped once it is full.
func (s *State) Notifications() <-chan models.Notification {
	return s.notifications
}

// notify must never block, it's called from the supervisor loop.
func (s *State) notify(method string, params any) {
	select {
	case s.notifications <- models.Notification{Method: method, Params: params}:
	default:
		log.Warn().Msgf("notification queue full, dropping: %s", method)
	}
}

func SessionResponse(sess Session) models.SessionResponse {
	resp := models.SessionResponse{
		State:      string(sess.State),
		Generation: sess.Generation,
		Id:         sess.Id,
		Device:     sess.Device,
	}
	if !sess.Started.IsZero() {
		started := sess.Started
		resp.Started = &started
	}
	return resp
}

// SetSession replaces the session snapshot. Used by the supervisor for
// lifecycle transitions.
func (s *State) SetSession(sess Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	s.notify(models.NotificationSessionState, SessionResponse(sess))
}

// SetStage updates the stage of a running cycle. Updates for any generation
// but the current one are ignored.
func (s *State) SetStage(gen uint64, stage SessionState) bool {
	s.mu.Lock()
	if s.session.Generation != gen || s.session.State == SessionIdle ||
		s.session.State == SessionInvalidated {
		s.mu.Unlock()
		return false
	}
	if s.session.State == stage {
		s.mu.Unlock()
		return true
	}
	s.session.State = stage
	sess := s.session
	s.mu.Unlock()

	s.notify(models.NotificationSessionState, SessionResponse(sess))
	return true
}

func (s *State) GetSession() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func TokenResponse(t tokens.Token) models.TokenResponse {
	return models.TokenResponse{
		Type:      t.Type,
		UID:       t.UID,
		Data:      t.Data,
		Id:        int64(t.ID),
		ScanTime:  t.ScanTime,
		Source:    t.Source,
		SessionId: t.SessionID,
	}
}

func (s *State) SetLastToken(token tokens.Token) {
	s.mu.Lock()
	s.lastToken = &token
	s.mu.Unlock()
	s.notify(models.NotificationScanToken, TokenResponse(token))
}

func (s *State) GetLastToken() *tokens.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastToken == nil {
		return nil
	}
	t := *s.lastToken
	return &t
}

func (s *State) SetWroteToken(token *tokens.Token) {
	s.mu.Lock()
	s.wroteToken = token
	s.mu.Unlock()
}

func (s *State) GetWroteToken() *tokens.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wroteToken
}

func RelayOutcomeResponse(o relay.Outcome) models.RelayOutcomeResponse {
	resp := models.RelayOutcomeResponse{
		Outcome:  o.Kind.String(),
		Status:   o.Status,
		Url:      o.Url,
		Role:     o.Request.Role,
		Id:       o.Request.Id,
		Sent:     o.Sent,
		Duration: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	return resp
}

func (s *State) SetLastRelay(o relay.Outcome) {
	s.mu.Lock()
	s.lastRelay = &o
	s.mu.Unlock()
	s.notify(models.NotificationRelayOutcome, RelayOutcomeResponse(o))
}

func (s *State) GetLastRelay() *relay.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRelay == nil {
		return nil
	}
	o := *s.lastRelay
	return &o
}

// Alert broadcasts a user visible alert to API clients.
func (s *State) Alert(title, message string) {
	s.notify(models.NotificationSessionAlert, models.AlertResponse{
		Title:   title,
		Message: message,
	})
}

func (s *State) GetReader(device string) (readers.Reader, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readers[device]
	return r, ok
}

func (s *State) SetReader(device string, reader readers.Reader) {
	s.mu.Lock()
	r, ok := s.readers[device]
	if ok && r != reader {
		err := r.Close()
		if err != nil {
			log.Warn().Err(err).Msg("error closing reader")
		}
	}
	s.readers[device] = reader
	s.mu.Unlock()

	s.notify(models.NotificationReaderAdded, device)
}

func (s *State) RemoveReader(device string) {
	s.mu.Lock()
	r, ok := s.readers[device]
	if ok && r != nil {
		err := r.Close()
		if err != nil {
			log.Warn().Err(err).Msg("error closing reader")
		}
	}
	delete(s.readers, device)
	s.mu.Unlock()

	if ok {
		s.notify(models.NotificationReaderRemove, device)
	}
}

// ListReaders returns connected device strings in sorted order.
func (s *State) ListReaders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs := make([]string, 0, len(s.readers))
	for k := range s.readers {
		rs = append(rs, k)
	}
	slices.Sort(rs)

	return rs
}

// ActiveReader returns the reader sessions are started on: the first
// connected reader which can currently scan, or nil.
func (s *State) ActiveReader() readers.Reader {
	for _, device := range s.ListReaders() {
		r, ok := s.GetReader(device)
		if ok && r != nil && r.ReadingAvailable() {
			return r
		}
	}
	return nil
}
