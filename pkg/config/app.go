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

package config

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	Version            = "1.0.0"
	AppName            = "taprelay"
	DbFilename         = "taprelay.db"
	LogFilename        = "taprelay.log"
	PidFilename        = "taprelay.pid"
	EnvFilename        = ".env"
	UserConfigFilename = AppName + ".ini"
	DefaultApiPort     = "7498"
)

// Relay fallbacks used when a key is unset.
const (
	DefaultRelayHost = "default.host"
	DefaultRelayPort = "8080"
	DefaultRelayRole = "unknown"
)

const DefaultSessionTimeout = 60

func BaseDefaults() *UserConfig {
	return &UserConfig{
		Scan: ScanConfig{
			AutoStart:      true,
			SessionTimeout: DefaultSessionTimeout,
		},
		Api: ApiConfig{
			Port: DefaultApiPort,
		},
	}
}

func TempDir() string {
	path := filepath.Join(os.TempDir(), AppName)
	err := os.MkdirAll(path, 0755)
	if err != nil {
		log.Error().Err(err).Msg("error creating temp folder")
	}
	return path
}
