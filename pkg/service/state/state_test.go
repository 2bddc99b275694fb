package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wizzomafizzo/taprelay/pkg/api/models"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

func drain(s *State) []models.Notification {
	var ns []models.Notification
	for {
		select {
		case n := <-s.Notifications():
			ns = append(ns, n)
		default:
			return ns
		}
	}
}

func TestSetStageIgnoresStaleGeneration(t *testing.T) {
	s := NewState()
	s.SetSession(Session{State: SessionActive, Generation: 2, Id: "b"})

	assert.False(t, s.SetStage(1, SessionReading))
	assert.Equal(t, SessionActive, s.GetSession().State)

	assert.True(t, s.SetStage(2, SessionReading))
	assert.Equal(t, SessionReading, s.GetSession().State)

	ns := drain(s)
	require.Len(t, ns, 2)
	assert.Equal(t, models.NotificationSessionState, ns[1].Method)
	assert.Equal(t, "reading", ns[1].Params.(models.SessionResponse).State)
}

func TestSetStageWhenIdle(t *testing.T) {
	s := NewState()
	assert.False(t, s.SetStage(0, SessionReading))
	assert.Equal(t, SessionIdle, s.GetSession().State)
}

func TestNotificationsNeverBlock(t *testing.T) {
	s := NewState()
	for i := 0; i < NotificationQueueSize*2; i++ {
		s.Alert("title", "message")
	}
	assert.Len(t, drain(s), NotificationQueueSize)
}

func TestWroteToken(t *testing.T) {
	s := NewState()
	assert.Nil(t, s.GetWroteToken())
	s.SetWroteToken(&tokens.Token{UID: "04a1"})
	assert.Equal(t, "04a1", s.GetWroteToken().UID)
}

func TestLastToken(t *testing.T) {
	s := NewState()
	assert.Nil(t, s.GetLastToken())

	s.SetLastToken(tokens.Token{UID: "04a1", ID: 42})
	got := s.GetLastToken()
	require.NotNil(t, got)
	assert.Equal(t, tokens.Identifier(42), got.ID)

	ns := drain(s)
	require.Len(t, ns, 1)
	assert.Equal(t, models.NotificationScanToken, ns[0].Method)
	assert.Equal(t, int64(42), ns[0].Params.(models.TokenResponse).Id)
}

func TestListReadersSorted(t *testing.T) {
	s := NewState()
	assert.Empty(t, s.ListReaders())
	assert.Nil(t, s.ActiveReader())
}
