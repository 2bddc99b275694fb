//go:build windows

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
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/cli"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/platforms/windows"
	"github.com/wizzomafizzo/taprelay/pkg/relay"
	"github.com/wizzomafizzo/taprelay/pkg/service"
	"github.com/wizzomafizzo/taprelay/pkg/utils"
)

// waitForExit blocks until Enter is pressed or the console is interrupted.
func waitForExit() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	enter := make(chan struct{})
	go func() {
		_, _ = fmt.Scanln()
		close(enter)
	}()

	select {
	case <-enter:
	case <-sigs:
	}
}

func main() {
	flags := cli.SetupFlags()

	pl := &windows.Platform{}
	flags.Pre(pl)

	defaults := config.BaseDefaults()
	defaults.TapRelay.ProbeDevice = true
	defaults.TapRelay.ConsoleLogging = true
	cfg := cli.Setup(pl, defaults)

	flags.Post(cfg, pl)

	fmt.Println("TapRelay v" + config.Version)

	stopSvc, err := service.Start(pl, cfg)
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		fmt.Println("Error starting service:", err)
		os.Exit(1)
	}

	fmt.Println("Relaying to:", relay.Endpoint(cfg.GetRelay()))

	host := "localhost"
	if ip, err := utils.GetLocalIp(); err == nil {
		host = ip.String()
	}
	fmt.Printf("API address: ws://%s/\n", net.JoinHostPort(host, cfg.GetApiPort()))

	fmt.Println("Press Enter to exit")
	waitForExit()

	err = stopSvc()
	if err != nil {
		log.Error().Err(err).Msg("error stopping service")
		fmt.Println("Error stopping service:", err)
		os.Exit(1)
	}
}
