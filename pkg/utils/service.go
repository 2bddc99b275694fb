//go:build linux || darwin

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

package utils

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/config"
)

var (
	ErrServiceRunning    = errors.New("service already running")
	ErrServiceNotRunning = errors.New("service not running")
)

// ServiceEntry starts the relay and returns a function which stops it.
type ServiceEntry func() (func() error, error)

// Service runs the relay as a background daemon tracked by a pid file in
// the temp folder.
type Service struct {
	entry   ServiceEntry
	pidPath string
}

func NewService(entry ServiceEntry) *Service {
	return &Service{
		entry:   entry,
		pidPath: filepath.Join(config.TempDir(), config.PidFilename),
	}
}

// Pid returns the process ID of the running daemon, or 0.
func (s *Service) Pid() (int, error) {
	data, err := os.ReadFile(s.pidPath)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("error reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("error parsing pid: %w", err)
	}

	return pid, nil
}

func (s *Service) Running() bool {
	pid, err := s.Pid()
	if err != nil || pid == 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

// Exec runs the service in the current process and blocks until SIGINT or
// SIGTERM.
func (s *Service) Exec() error {
	if s.Running() {
		return ErrServiceRunning
	}

	log.Info().Msg("starting service")

	err := os.WriteFile(s.pidPath, []byte(strconv.Itoa(os.Getpid())), 0644)
	if err != nil {
		return fmt.Errorf("error creating pid file: %w", err)
	}
	defer func() {
		err := os.Remove(s.pidPath)
		if err != nil {
			log.Error().Err(err).Msg("error removing pid file")
		}
	}()

	err = syscall.Setpriority(syscall.PRIO_PROCESS, 0, 1)
	if err != nil {
		log.Error().Err(err).Msg("error setting nice level")
	}

	stop, err := s.entry()
	if err != nil {
		return fmt.Errorf("error starting service: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info().Msg("stopping service")
	return stop()
}

// Start launches a detached copy of this binary running Exec.
func (s *Service) Start() error {
	if s.Running() {
		return ErrServiceRunning
	}

	binPath := os.Getenv(config.UserAppPathEnv)
	if binPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("error getting absolute binary path: %w", err)
		}
		binPath = exePath
	}

	cmd := exec.Command(binPath, "-service", "exec")
	cmd.Env = os.Environ()

	// point the daemon at the config next to the binary
	configPath := filepath.Join(filepath.Dir(binPath), config.UserConfigFilename)
	if _, err := os.Stat(configPath); err == nil && os.Getenv(config.UserConfigEnv) == "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", config.UserConfigEnv, configPath))
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", config.UserAppPathEnv, binPath))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	err := cmd.Start()
	if err != nil {
		return fmt.Errorf("error starting service: %w", err)
	}

	return cmd.Process.Release()
}

func (s *Service) Stop() error {
	if !s.Running() {
		return ErrServiceNotRunning
	}

	pid, err := s.Pid()
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return process.Signal(syscall.SIGTERM)
}

func (s *Service) Restart() error {
	if s.Running() {
		err := s.Stop()
		if err != nil {
			return err
		}
	}

	for s.Running() {
		time.Sleep(1 * time.Second)
	}

	return s.Start()
}

// Handle runs a -service flag command: exec, start, stop, restart or
// status.
func (s *Service) Handle(cmd string) error {
	switch cmd {
	case "exec":
		return s.Exec()
	case "start":
		return s.Start()
	case "stop":
		return s.Stop()
	case "restart":
		return s.Restart()
	case "status":
		if !s.Running() {
			return ErrServiceNotRunning
		}
		return nil
	default:
		return fmt.Errorf("unknown service argument: %s", cmd)
	}
}
