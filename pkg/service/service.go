/*
TapRelay
Copyright (C) 2023, 2024 Callan Barrett

This file is part of TapRelay.

TapRelay is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TapRelay is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TapRelay.  If not, see <http://www.gnu.org/licenses/>.
*/

package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/database"
	"github.com/wizzomafizzo/taprelay/pkg/metrics"
	"github.com/wizzomafizzo/taprelay/pkg/platforms"
	"github.com/wizzomafizzo/taprelay/pkg/relay"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
	"golang.org/x/sync/errgroup"
)

func logConfig(cfg *config.UserConfig) {
	r := cfg.GetRelay()

	log.Info().Msgf("TapRelay v%s", config.Version)
	log.Info().Msgf("config path = %s", cfg.IniPath)
	log.Info().Msgf("app path = %s", cfg.AppPath)
	log.Info().Msgf("relay = %s (role %s)", relay.Endpoint(r), r.Role)
	log.Info().Msgf("reader = %s", cfg.GetReader())
	log.Info().Msgf("probe_device = %t", cfg.GetProbeDevice())
	log.Info().Msgf("auto_start = %t", cfg.GetAutoStart())
	log.Info().Msgf("session_timeout = %s", cfg.GetSessionTimeout())
	log.Info().Msgf("stop_after_first_read = %t", cfg.GetStopAfterFirstRead())
	log.Info().Msgf("format_blank_tags = %t", cfg.GetFormatBlankTags())
	log.Info().Msgf("reject_non_positive_ids = %t", cfg.GetRejectNonPositiveIds())
	log.Info().Msgf("debug = %t", cfg.GetDebug())
}

// Start runs the scan supervisor, reader manager and API server in the
// background. The returned function stops them and waits for them to exit.
func Start(
	pl platforms.Platform,
	cfg *config.UserConfig,
) (func() error, error) {
	logConfig(cfg)

	log.Debug().Msg("opening database")
	db, err := database.Open(pl.DataFolder())
	if err != nil {
		log.Error().Err(err).Msgf("error opening database")
		return nil, err
	}

	log.Debug().Msg("running platform setup")
	err = pl.Setup(cfg)
	if err != nil {
		log.Error().Msgf("error setting up platform: %s", err)
		_ = db.Close()
		return nil, err
	}

	st := state.NewState()
	m := metrics.NewManager()

	sup := NewSupervisor(SupervisorOptions{
		Config:  cfg,
		State:   st,
		Readers: st,
		Relayer: relay.NewClient(nil),
		Observer: Observers{
			LogObserver{},
			stateObserver{st: st, pl: pl},
			metricsObserver{m: m},
			historyObserver{db: db},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sup.Run(ctx)
	})

	g.Go(func() error {
		err := api.Start(ctx, api.Options{
			Platform: pl,
			Config:   cfg,
			State:    st,
			Database: db,
			Scanner:  sup,
			Metrics:  m,
		})
		if err != nil {
			log.Error().Err(err).Msg("api server stopped")
		}
		return err
	})

	g.Go(func() error {
		readerManager(ctx, pl, cfg, st, sup, m)
		return nil
	})

	stopWatch, err := cfg.Watch(func() {
		logConfig(cfg)
		sup.Kick()
	})
	if err != nil {
		log.Warn().Err(err).Msg("error watching config file")
	}

	return func() error {
		if stopWatch != nil {
			err := stopWatch()
			if err != nil {
				log.Warn().Err(err).Msg("error stopping config watcher")
			}
		}

		cancel()
		err := g.Wait()

		closeErr := db.Close()
		if closeErr != nil {
			log.Warn().Err(closeErr).Msg("error closing database")
		}

		stopErr := pl.Stop()
		if stopErr != nil {
			log.Warn().Msgf("error stopping platform: %s", stopErr)
		}

		return errors.Join(err, closeErr, stopErr)
	}, nil
}
