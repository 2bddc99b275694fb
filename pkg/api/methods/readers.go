package methods

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api/models"
	"github.com/wizzomafizzo/taprelay/pkg/api/models/requests"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

func HandleReaderWrite(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received reader write request")

	if len(env.Params) == 0 {
		return nil, ErrMissingParams
	}

	var params models.ReaderWriteParams
	err := json.Unmarshal(env.Params, &params)
	if err != nil {
		return nil, ErrInvalidParams
	}

	t, err := env.Scanner.WriteTag(env.Context, tokens.Identifier(params.Id))
	if err != nil {
		log.Error().Err(err).Msg("error writing to reader")
		return nil, err
	}

	return models.WriteResponse{
		UID:  t.UID,
		Type: t.Type,
		Id:   int64(t.ID),
	}, nil
}
