package methods

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api/models"
	"github.com/wizzomafizzo/taprelay/pkg/api/models/requests"
	"github.com/wizzomafizzo/taprelay/pkg/database"
)

func maxResults(params []byte) (int, error) {
	if len(params) == 0 {
		return database.DefaultMaxResults, nil
	}

	var p models.HistoryParams
	err := json.Unmarshal(params, &p)
	if err != nil {
		return 0, ErrInvalidParams
	}

	if p.MaxResults == nil {
		return database.DefaultMaxResults, nil
	} else if *p.MaxResults < 1 {
		return 0, ErrInvalidParams
	}

	return *p.MaxResults, nil
}

func NewHistory(db *database.Database, max int) (models.HistoryResponse, error) {
	entries, err := db.GetHistory(max)
	if err != nil {
		return models.HistoryResponse{}, err
	}

	resp := models.HistoryResponse{
		Entries: make([]models.HistoryResponseEntry, len(entries)),
	}

	for i, e := range entries {
		resp.Entries[i] = models.HistoryResponseEntry{
			Seq:       e.Seq,
			Time:      e.Time,
			SessionId: e.SessionId,
			Device:    e.Device,
			UID:       e.UID,
			Type:      e.Type,
			Id:        e.Id,
			Stage:     e.Stage,
			Error:     e.Error,
			Success:   e.Success,
		}
	}

	return resp, nil
}

func HandleHistory(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received history request")

	max, err := maxResults(env.Params)
	if err != nil {
		return nil, err
	}

	resp, err := NewHistory(env.Database, max)
	if err != nil {
		log.Error().Err(err).Msgf("error getting history")
		return nil, errors.New("error getting history")
	}

	return resp, nil
}

func HandleRelayHistory(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received relay history request")

	max, err := maxResults(env.Params)
	if err != nil {
		return nil, err
	}

	entries, err := env.Database.GetRelays(max)
	if err != nil {
		log.Error().Err(err).Msgf("error getting relay history")
		return nil, errors.New("error getting relay history")
	}

	resp := models.RelayHistoryResponse{
		Entries: make([]models.RelayHistoryResponseEntry, len(entries)),
	}

	for i, e := range entries {
		resp.Entries[i] = models.RelayHistoryResponseEntry{
			Seq:      e.Seq,
			Time:     e.Time,
			Url:      e.Url,
			Role:     e.Role,
			Id:       e.Id,
			Outcome:  e.Outcome,
			Status:   e.Status,
			Error:    e.Error,
			Duration: e.DurationMs,
		}
	}

	return resp, nil
}
