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
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

type serialDevice struct {
	Vid string
	Pid string
}

var ignoreDevices = []serialDevice{
	// Sinden Lightgun
	{Vid: "16c0", Pid: "0f38"},
	{Vid: "16c0", Pid: "0f39"},
	{Vid: "16c0", Pid: "0f01"},
	{Vid: "16c0", Pid: "0f02"},
	{Vid: "16d0", Pid: "0f38"},
	{Vid: "16d0", Pid: "0f39"},
	{Vid: "16d0", Pid: "0f01"},
	{Vid: "16d0", Pid: "0f02"},
	{Vid: "16d0", Pid: "1094"},
	{Vid: "16d0", Pid: "1095"},
	{Vid: "16d0", Pid: "1096"},
	{Vid: "16d0", Pid: "1097"},
	{Vid: "16d0", Pid: "1098"},
	{Vid: "16d0", Pid: "1099"},
	{Vid: "16d0", Pid: "109a"},
	{Vid: "16d0", Pid: "109b"},
	{Vid: "16d0", Pid: "109c"},
	{Vid: "16d0", Pid: "109d"},
}

// SerialFilter drops devices matching any of the user's ignore patterns.
type SerialFilter struct {
	globs []glob.Glob
}

// NewSerialFilter compiles glob patterns such as "/dev/ttyS*" or "COM1".
// Invalid patterns are logged and skipped.
func NewSerialFilter(patterns []string) *SerialFilter {
	f := &SerialFilter{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			log.Warn().Err(err).Msgf("invalid serial ignore pattern: %s", p)
			continue
		}
		f.globs = append(f.globs, g)
	}
	return f
}

func (f *SerialFilter) Ignored(path string) bool {
	if f == nil {
		return false
	}
	for _, g := range f.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func (f *SerialFilter) Filter(paths []string) []string {
	var out []string
	for _, p := range paths {
		if f.Ignored(p) {
			log.Debug().Msgf("ignoring serial device: %s", p)
			continue
		}
		out = append(out, p)
	}
	return out
}

func ignoreSerialDevice(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return true
	}

	if _, err := os.Stat("/usr/bin/udevadm"); err != nil {
		log.Debug().Msgf("udevadm not found, skipping ignore list check")
		return false
	}

	cmd := exec.Command("/usr/bin/udevadm", "info", "--name="+path)
	out, err := cmd.Output()
	if err != nil {
		log.Error().Err(err).Msg("udevadm failed")
		return false
	}

	vid := ""
	pid := ""
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "E: ID_VENDOR_ID=") {
			vid = strings.TrimPrefix(line, "E: ID_VENDOR_ID=")
		} else if strings.HasPrefix(line, "E: ID_MODEL_ID=") {
			pid = strings.TrimPrefix(line, "E: ID_MODEL_ID=")
		}
	}

	if vid == "" || pid == "" {
		return false
	}

	vid = strings.ToLower(vid)
	pid = strings.ToLower(pid)

	for _, v := range ignoreDevices {
		if vid == v.Vid && pid == v.Pid {
			return true
		}
	}

	return false
}

func getLinuxList() ([]string, error) {
	path := "/dev/serial/by-id"

	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var devices []string
	for _, v := range entries {
		if v.IsDir() {
			continue
		}

		device := filepath.Join(path, v.Name())
		if ignoreSerialDevice(device) {
			continue
		}

		devices = append(devices, device)
	}

	return devices, nil
}

// GetSerialDeviceList returns candidate serial devices for readers, minus
// known non-reader hardware and anything matched by the filter.
func GetSerialDeviceList(filter *SerialFilter) ([]string, error) {
	if runtime.GOOS == "linux" {
		devices, err := getLinuxList()
		if err != nil {
			return nil, err
		}
		return filter.Filter(devices), nil
	}

	prefix := ""
	switch runtime.GOOS {
	case "darwin":
		prefix = "/dev/tty."
	case "windows":
		prefix = "COM"
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	var devices []string
	for _, v := range ports {
		if !strings.HasPrefix(v, prefix) {
			continue
		}
		devices = append(devices, v)
	}

	return filter.Filter(devices), nil
}
