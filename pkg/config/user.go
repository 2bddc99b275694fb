/*
TapRelay
Copyright (C) 2023, 2024 Callan Barrett
Copyright (C) 2023 Gareth Jones

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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

const UserConfigEnv = "TAPRELAY_CONFIG"
const UserAppPathEnv = "TAPRELAY_APP_PATH"

type TapRelayConfig struct {
	Reader         []string `ini:"reader,omitempty,allowshadow"`
	ProbeDevice    bool     `ini:"probe_device"`
	IgnoreSerial   []string `ini:"ignore_serial,omitempty,allowshadow"`
	ConsoleLogging bool     `ini:"console_logging"`
	Debug          bool     `ini:"debug"`
}

type RelayConfig struct {
	Host string `ini:"host,omitempty"`
	Port string `ini:"port,omitempty"`
	Role string `ini:"role,omitempty"`
}

type ScanConfig struct {
	AutoStart            bool `ini:"auto_start"`
	SessionTimeout       int  `ini:"session_timeout"` // seconds
	StopAfterFirstRead   bool `ini:"stop_after_first_read"`
	FormatBlankTags      bool `ini:"format_blank_tags"`
	RejectNonPositiveIds bool `ini:"reject_non_positive_ids"`
}

type ApiConfig struct {
	Port string `ini:"port"`
}

type UserConfig struct {
	mu       sync.RWMutex
	loadTime time.Time
	AppPath  string         `ini:"-"`
	IniPath  string         `ini:"-"`
	TapRelay TapRelayConfig `ini:"taprelay"`
	Relay    RelayConfig    `ini:"relay"`
	Scan     ScanConfig     `ini:"scan"`
	Api      ApiConfig      `ini:"api"`
}

// Relay is the destination and role label for reported identifiers.
type Relay struct {
	Host string
	Port string
	Role string
}

var (
	ErrRelayEmptyHost = errors.New("relay host cannot be empty")
	ErrRelayEmptyPort = errors.New("relay port cannot be empty")
)

// GetRelay returns the relay settings, substituting the defaults for any
// unset key.
func (c *UserConfig) GetRelay() Relay {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := Relay{
		Host: strings.TrimSpace(c.Relay.Host),
		Port: strings.TrimSpace(c.Relay.Port),
		Role: strings.TrimSpace(c.Relay.Role),
	}

	if r.Host == "" {
		r.Host = DefaultRelayHost
	}
	if r.Port == "" {
		r.Port = DefaultRelayPort
	}
	if r.Role == "" {
		r.Role = DefaultRelayRole
	}

	return r
}

// SetRelay updates the relay settings. Host and port are required, an
// empty role falls back to the default when read.
func (c *UserConfig) SetRelay(r Relay) error {
	host := strings.TrimSpace(r.Host)
	port := strings.TrimSpace(r.Port)

	if host == "" {
		return ErrRelayEmptyHost
	} else if port == "" {
		return ErrRelayEmptyPort
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Relay.Host = host
	c.Relay.Port = port
	c.Relay.Role = strings.TrimSpace(r.Role)
	return nil
}

func (c *UserConfig) GetReader() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TapRelay.Reader
}

func (c *UserConfig) SetReader(reader []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TapRelay.Reader = reader
}

func (c *UserConfig) GetProbeDevice() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TapRelay.ProbeDevice
}

func (c *UserConfig) SetProbeDevice(probeDevice bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TapRelay.ProbeDevice = probeDevice
}

func (c *UserConfig) GetIgnoreSerial() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TapRelay.IgnoreSerial
}

func (c *UserConfig) GetConsoleLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TapRelay.ConsoleLogging
}

func (c *UserConfig) GetDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TapRelay.Debug
}

func (c *UserConfig) SetDebug(debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TapRelay.Debug = debug
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func (c *UserConfig) GetAutoStart() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Scan.AutoStart
}

func (c *UserConfig) SetAutoStart(autoStart bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scan.AutoStart = autoStart
}

func (c *UserConfig) GetSessionTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Scan.SessionTimeout <= 0 {
		return DefaultSessionTimeout * time.Second
	}
	return time.Duration(c.Scan.SessionTimeout) * time.Second
}

func (c *UserConfig) GetStopAfterFirstRead() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Scan.StopAfterFirstRead
}

func (c *UserConfig) SetStopAfterFirstRead(stop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scan.StopAfterFirstRead = stop
}

func (c *UserConfig) GetFormatBlankTags() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Scan.FormatBlankTags
}

func (c *UserConfig) SetFormatBlankTags(format bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scan.FormatBlankTags = format
}

func (c *UserConfig) GetRejectNonPositiveIds() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Scan.RejectNonPositiveIds
}

func (c *UserConfig) SetRejectNonPositiveIds(reject bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scan.RejectNonPositiveIds = reject
}

func (c *UserConfig) GetApiPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Api.Port == "" {
		return DefaultApiPort
	}
	return c.Api.Port
}

func (c *UserConfig) LoadTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadTime
}

func (c *UserConfig) LoadConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := ini.ShadowLoad(c.IniPath)
	if err != nil {
		return err
	}

	// reset so keys removed from the file go back to zero values
	c.TapRelay = TapRelayConfig{}
	c.Relay = RelayConfig{}

	err = cfg.StrictMapTo(c)
	if err != nil {
		return err
	}

	c.loadTime = time.Now()

	return nil
}

func (c *UserConfig) SaveConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := ini.Empty()

	ini.PrettyEqual = true
	ini.PrettyFormat = false

	err := cfg.ReflectFrom(c)
	if err != nil {
		return err
	}

	err = cfg.SaveTo(c.IniPath)
	if err != nil {
		return err
	}

	c.loadTime = time.Now()

	return nil
}

func NewUserConfig(defaultConfig *UserConfig) (*UserConfig, error) {
	iniPath := os.Getenv(UserConfigEnv)

	exePath, err := os.Executable()
	if err != nil {
		return defaultConfig, err
	}

	appPath := os.Getenv(UserAppPathEnv)
	if appPath != "" {
		exePath = appPath
	}

	if iniPath == "" {
		iniPath = filepath.Join(filepath.Dir(exePath), UserConfigFilename)
	}

	defaultConfig.AppPath = exePath
	defaultConfig.IniPath = iniPath

	if _, err := os.Stat(iniPath); os.IsNotExist(err) {
		// create a blank one on disk
		err := defaultConfig.SaveConfig()
		if err != nil {
			log.Error().Err(err).Msg("failed to save new user config to disk")
			return defaultConfig, err
		}

		return defaultConfig, nil
	}

	err = defaultConfig.LoadConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load user config")
		return defaultConfig, err
	}

	return defaultConfig, nil
}
