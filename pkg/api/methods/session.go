package methods

import (
	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api/models/requests"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
)

func HandleSessionStart(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received session start request")

	err := env.Scanner.Start()
	if err != nil {
		return nil, err
	}

	return state.SessionResponse(env.State.GetSession()), nil
}

func HandleSessionStop(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received session stop request")
	return nil, env.Scanner.Stop()
}
