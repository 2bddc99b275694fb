package methods

import (
	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api/models"
	"github.com/wizzomafizzo/taprelay/pkg/api/models/requests"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
)

// NewStatus builds a snapshot of the session, readers and most recent scan
// and relay.
func NewStatus(st *state.State) models.StatusResponse {
	resp := models.StatusResponse{
		Session: state.SessionResponse(st.GetSession()),
		Readers: make([]models.ReaderResponse, 0),
	}

	for _, device := range st.ListReaders() {
		reader, ok := st.GetReader(device)
		if ok && reader != nil {
			resp.Readers = append(resp.Readers, models.ReaderResponse{
				Connected: reader.ReadingAvailable(),
				Device:    device,
				Info:      reader.Info(),
			})
		}
	}

	if t := st.GetLastToken(); t != nil {
		tr := state.TokenResponse(*t)
		resp.LastToken = &tr
	}

	if o := st.GetLastRelay(); o != nil {
		or := state.RelayOutcomeResponse(*o)
		resp.LastRelay = &or
	}

	return resp
}

func HandleStatus(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received status request")
	return NewStatus(env.State), nil
}

func HandleVersion(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received version request")
	return models.VersionResponse{
		Version:  config.Version,
		Platform: env.Platform.Id(),
	}, nil
}
