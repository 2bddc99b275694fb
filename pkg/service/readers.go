package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/metrics"
	"github.com/wizzomafizzo/taprelay/pkg/platforms"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/service/state"
	"golang.org/x/exp/slices"
)

const readerCheckInterval = 1 * time.Second

// connectReaders opens any configured readers which are not connected yet
// and, if probing is enabled, any detected ones. It returns the number of
// readers opened.
func connectReaders(
	pl platforms.Platform,
	cfg *config.UserConfig,
	st *state.State,
) int {
	rs := st.ListReaders()
	opened := 0

	// user defined readers
	for _, device := range cfg.GetReader() {
		if slices.Contains(rs, device) {
			continue
		}

		for _, r := range pl.SupportedReaders(cfg) {
			_, _, err := readers.ParseDevice(device, r.Ids())
			if err != nil {
				continue
			}

			err = r.Open(device)
			if err != nil {
				log.Error().Err(err).Msgf("error opening reader: %s", device)
				break
			}

			st.SetReader(device, r)
			log.Info().Msgf("opened reader: %s", device)
			opened++
			break
		}
	}

	if !cfg.GetProbeDevice() {
		return opened
	}

	// auto-detect readers
	for _, r := range pl.SupportedReaders(cfg) {
		detect := r.Detect(st.ListReaders())
		if detect == "" {
			continue
		}

		err := r.Open(detect)
		if err != nil {
			log.Error().Err(err).Msgf("error opening detected reader: %s", detect)
			_ = r.Close()
			continue
		}

		st.SetReader(detect, r)
		log.Info().Msgf("opened detected reader: %s", detect)
		opened++
	}

	return opened
}

// pruneReaders removes readers which can no longer scan.
func pruneReaders(st *state.State) {
	for _, device := range st.ListReaders() {
		r, ok := st.GetReader(device)
		if ok && r != nil && !r.ReadingAvailable() {
			log.Debug().Msgf("pruning disconnected reader: %s", device)
			st.RemoveReader(device)
		}
	}
}

func closeReaders(st *state.State) {
	for _, device := range st.ListReaders() {
		st.RemoveReader(device)
	}
}

// readerManager keeps the set of connected readers up to date until ctx is
// done. Scanning is kicked whenever a new reader is opened.
func readerManager(
	ctx context.Context,
	pl platforms.Platform,
	cfg *config.UserConfig,
	st *state.State,
	sup *Supervisor,
	m *metrics.Manager,
) {
	ticker := time.NewTicker(readerCheckInterval)
	defer ticker.Stop()

	check := func() {
		pruneReaders(st)
		if connectReaders(pl, cfg, st) > 0 {
			sup.Kick()
		}
		m.SetReadersConnected(len(st.ListReaders()))
	}

	check()
	for {
		select {
		case <-ctx.Done():
			closeReaders(st)
			m.SetReadersConnected(0)
			return
		case <-ticker.C:
			check()
		}
	}
}
