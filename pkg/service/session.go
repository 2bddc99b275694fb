package service

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

// scanSession is a hardware session bound to the generation it was started
// in. Only the supervisor loop holds one.
type scanSession struct {
	gen     uint64
	session readers.Session
	reader  readers.Reader
	started time.Time
}

func (s *scanSession) info() SessionInfo {
	return SessionInfo{
		Gen:     s.gen,
		Id:      s.session.Id(),
		Device:  s.reader.Device(),
		Started: s.started,
	}
}

type cyclePolicy struct {
	formatBlankTags      bool
	rejectNonPositiveIds bool
}

type cycleResult struct {
	sess  *scanSession
	token *tokens.Token
	err   error
}

// runCycle takes the first tag of a scan through connect, query, read and
// parse. Failures are returned as a *CycleFailure.
func runCycle(
	sess *scanSession,
	tags []readers.Tag,
	pol cyclePolicy,
	st *state.State,
	now func() time.Time,
) cycleResult {
	res := cycleResult{sess: sess}
	if len(tags) > 1 {
		log.Debug().Msgf("%d tags detected, using the first", len(tags))
	}
	tag := tags[0]

	fail := func(stage Stage, err error) cycleResult {
		res.err = &CycleFailure{Stage: stage, UID: tag.UID(), Err: err}
		return res
	}

	st.SetStage(sess.gen, state.SessionConnecting)
	err := sess.session.Connect(tag)
	if err != nil {
		return fail(StageConnect, err)
	}

	st.SetStage(sess.gen, state.SessionQuerying)
	status, capacity, err := tag.QueryNdefStatus()
	if err != nil {
		return fail(StageQuery, err)
	} else if status == readers.NdefNotSupported {
		return fail(StageQuery, readers.ErrTagNotSupported)
	}
	log.Debug().Msgf("tag %s is %s, capacity %d bytes", tag.UID(), status, capacity)

	st.SetStage(sess.gen, state.SessionReading)
	msg, err := tag.ReadNdef()
	if err != nil {
		if errors.Is(err, readers.ErrNoNdef) && pol.formatBlankTags &&
			status == readers.NdefReadWrite {
			formatBlankTag(tag)
		}
		return fail(StageRead, err)
	}

	st.SetStage(sess.gen, state.SessionParsing)
	payload, err := tokens.FirstRecordPayload(msg)
	if err != nil {
		return fail(StageParse, err)
	}

	id, err := tokens.ParseIdentifier(payload)
	if err != nil {
		return fail(StageParse, err)
	}

	if pol.rejectNonPositiveIds && id <= 0 {
		return fail(StageParse, ErrIdRejected)
	}

	res.token = &tokens.Token{
		Type:      tag.Type(),
		UID:       tag.UID(),
		Data:      hex.EncodeToString(msg),
		ID:        id,
		ScanTime:  now(),
		Source:    sess.reader.Device(),
		SessionID: sess.session.Id(),
	}

	return res
}

func formatBlankTag(tag readers.Tag) {
	log.Info().Msgf("formatting blank tag: %s", tag.UID())
	err := tag.WriteNdef(tokens.BuildBlankMessage())
	if err != nil {
		log.Error().Err(err).Msgf("error formatting tag %s", tag.UID())
	}
}
