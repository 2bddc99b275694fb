package methods

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api/models"
	"github.com/wizzomafizzo/taprelay/pkg/api/models/requests"
)

func HandleSettings(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received settings request")

	relay := env.Config.GetRelay()

	resp := models.SettingsResponse{
		RelayHost:            relay.Host,
		RelayPort:            relay.Port,
		RelayRole:            relay.Role,
		Readers:              make([]string, 0),
		ProbeDevice:          env.Config.GetProbeDevice(),
		AutoStart:            env.Config.GetAutoStart(),
		SessionTimeout:       int(env.Config.GetSessionTimeout().Seconds()),
		StopAfterFirstRead:   env.Config.GetStopAfterFirstRead(),
		FormatBlankTags:      env.Config.GetFormatBlankTags(),
		RejectNonPositiveIds: env.Config.GetRejectNonPositiveIds(),
		Debug:                env.Config.GetDebug(),
	}

	resp.Readers = append(resp.Readers, env.Config.GetReader()...)

	return resp, nil
}

func HandleSettingsUpdate(env requests.RequestEnv) (any, error) {
	log.Info().Msg("received settings update request")

	if len(env.Params) == 0 {
		return nil, ErrMissingParams
	}

	var params models.UpdateSettingsParams
	err := json.Unmarshal(env.Params, &params)
	if err != nil {
		return nil, ErrInvalidParams
	}

	if params.RelayHost != nil || params.RelayPort != nil || params.RelayRole != nil {
		relay := env.Config.GetRelay()
		if params.RelayHost != nil {
			relay.Host = *params.RelayHost
		}
		if params.RelayPort != nil {
			relay.Port = *params.RelayPort
		}
		if params.RelayRole != nil {
			relay.Role = *params.RelayRole
		}

		log.Info().
			Str("host", relay.Host).
			Str("port", relay.Port).
			Str("role", relay.Role).
			Msg("updating relay")
		err := env.Config.SetRelay(relay)
		if err != nil {
			return nil, err
		}
	}

	if params.Readers != nil {
		log.Info().Strs("readers", *params.Readers).Msg("updating readers")
		env.Config.SetReader(*params.Readers)
	}

	if params.ProbeDevice != nil {
		log.Info().Bool("probeDevice", *params.ProbeDevice).Msg("updating probe device")
		env.Config.SetProbeDevice(*params.ProbeDevice)
	}

	if params.AutoStart != nil {
		log.Info().Bool("autoStart", *params.AutoStart).Msg("updating auto start")
		env.Config.SetAutoStart(*params.AutoStart)
	}

	if params.StopAfterFirstRead != nil {
		log.Info().Bool("stopAfterFirstRead", *params.StopAfterFirstRead).Msg("updating stop after first read")
		env.Config.SetStopAfterFirstRead(*params.StopAfterFirstRead)
	}

	if params.FormatBlankTags != nil {
		log.Info().Bool("formatBlankTags", *params.FormatBlankTags).Msg("updating format blank tags")
		env.Config.SetFormatBlankTags(*params.FormatBlankTags)
	}

	if params.RejectNonPositiveIds != nil {
		log.Info().Bool("rejectNonPositiveIds", *params.RejectNonPositiveIds).Msg("updating reject non-positive ids")
		env.Config.SetRejectNonPositiveIds(*params.RejectNonPositiveIds)
	}

	if params.Debug != nil {
		log.Info().Bool("debug", *params.Debug).Msg("updating debug")
		env.Config.SetDebug(*params.Debug)
	}

	return nil, env.Config.SaveConfig()
}
