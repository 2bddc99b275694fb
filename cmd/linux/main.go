//go:build linux

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

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/cli"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/platforms/linux"
	"github.com/wizzomafizzo/taprelay/pkg/service"
	"github.com/wizzomafizzo/taprelay/pkg/utils"
)

func main() {
	flags := cli.SetupFlags()
	serviceOpt := flag.String(
		"service",
		"",
		"manage TapRelay service (exec|start|stop|restart|status)",
	)

	pl := &linux.Platform{}
	flags.Pre(pl)

	defaults := config.BaseDefaults()
	defaults.TapRelay.ProbeDevice = true
	cfg := cli.Setup(pl, defaults)

	svc := utils.NewService(func() (func() error, error) {
		return service.Start(pl, cfg)
	})

	if *serviceOpt != "" {
		err := svc.Handle(*serviceOpt)
		if errors.Is(err, utils.ErrServiceNotRunning) && *serviceOpt == "status" {
			fmt.Println("TapRelay service is not running")
			os.Exit(1)
		} else if err != nil {
			log.Error().Err(err).Msg("error handling service command")
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	flags.Post(cfg, pl)

	if !svc.Running() {
		fmt.Println("TapRelay v" + config.Version + " (linux)")
		err := svc.Exec()
		if err != nil {
			log.Error().Err(err).Msg("error running service")
			_, _ = fmt.Fprintf(os.Stderr, "Error running service: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	fmt.Println("TapRelay service is already running, see -help for commands")
}
