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

// Package simple_serial reads tags reported by a microcontroller over a
// serial port, one line per detection:
//
//	SCAN\tuid=04a1b2c3\tdata=<hex ndef message>
//	SCAN\tuid=04a1b2c3\ttext={"id": 42}
//
// A tag stays on the reader while it keeps being reported.
package simple_serial

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
	"go.bug.st/serial"
)

const timeToForgetTag = 1 * time.Second

type SimpleSerialReader struct {
	mu       sync.Mutex
	device   string
	path     string
	polling  bool
	gone     bool
	port     serial.Port
	lastTag  *serialTag
	sessions readers.Sessions
}

func NewReader() *SimpleSerialReader {
	return &SimpleSerialReader{}
}

func (r *SimpleSerialReader) Ids() []string {
	return []string{"simple_serial"}
}

func parseLine(line string, now time.Time) *serialTag {
	line = strings.TrimSpace(line)
	line = strings.Trim(line, "\r")

	if !strings.HasPrefix(line, "SCAN\t") {
		return nil
	}

	args := line[5:]
	if len(args) == 0 {
		return nil
	}

	t := serialTag{seen: now}

	ps := strings.Split(args, "\t")
	hasArg := false
	for i := 0; i < len(ps); i++ {
		ps[i] = strings.TrimSpace(ps[i])
		if strings.HasPrefix(ps[i], "uid=") {
			t.uid = strings.ToLower(ps[i][4:])
			hasArg = true
		} else if strings.HasPrefix(ps[i], "data=") {
			data, err := hex.DecodeString(ps[i][5:])
			if err != nil {
				log.Warn().Err(err).Msg("invalid hex data from serial reader")
			} else {
				t.data = data
			}
			hasArg = true
		} else if strings.HasPrefix(ps[i], "text=") {
			t.text = ps[i][5:]
			hasArg = true
		}
	}

	// if there are no named arguments, whole args becomes text
	if !hasArg {
		t.text = args
	}

	if t.uid == "" {
		// stable placeholder so the same payload is treated as the same tag
		t.uid = hex.EncodeToString([]byte(t.text + string(t.data)))
		if len(t.uid) > 14 {
			t.uid = t.uid[:14]
		}
	}

	return &t
}

func (r *SimpleSerialReader) Open(device string) error {
	_, path, err := readers.ParseDevice(device, r.Ids())
	if err != nil {
		return err
	}

	if runtime.GOOS != "windows" {
		if _, err := os.Stat(path); err != nil {
			return err
		}
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: 115200,
	})
	if err != nil {
		return err
	}

	err = port.SetReadTimeout(100 * time.Millisecond)
	if err != nil {
		_ = port.Close()
		return err
	}

	r.mu.Lock()
	r.port = port
	r.device = device
	r.path = path
	r.polling = true
	r.gone = false
	r.mu.Unlock()

	go r.readLoop(port)

	return nil
}

func (r *SimpleSerialReader) readLoop(port serial.Port) {
	var lineBuf []byte
	buf := make([]byte, 1024)

	for r.isPolling() {
		n, err := port.Read(buf)
		if err != nil {
			log.Error().Err(err).Msg("failed to read from serial port")
			r.mu.Lock()
			r.gone = true
			r.polling = false
			r.mu.Unlock()
			r.sessions.Terminate(err.Error())
			_ = port.Close()
			return
		}

		for i := 0; i < n; i++ {
			if buf[i] != '\n' {
				lineBuf = append(lineBuf, buf[i])
				continue
			}

			t := parseLine(string(lineBuf), time.Now())
			lineBuf = nil

			if t != nil {
				r.mu.Lock()
				if r.lastTag == nil || r.lastTag.uid != t.uid {
					log.Debug().Msgf("new serial tag: %s", t.uid)
				}
				r.lastTag = t
				r.mu.Unlock()
			}
		}
	}
}

func (r *SimpleSerialReader) isPolling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polling
}

func (r *SimpleSerialReader) Close() error {
	r.mu.Lock()
	r.polling = false
	port := r.port
	r.port = nil
	r.mu.Unlock()

	r.sessions.Terminate("reader closed")

	if port != nil {
		return port.Close()
	}
	return nil
}

func (r *SimpleSerialReader) Detect(_ []string) string {
	return ""
}

func (r *SimpleSerialReader) Device() string {
	return r.device
}

func (r *SimpleSerialReader) ReadingAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polling && r.port != nil
}

func (r *SimpleSerialReader) Info() string {
	return r.path
}

func (r *SimpleSerialReader) NewSession(opts readers.SessionOptions, sink readers.Sink) (readers.Session, error) {
	if !r.ReadingAvailable() {
		return nil, readers.ErrNotConnected
	}
	return r.sessions.New(r, opts, sink)
}

// current returns the last reported tag if it is still on the reader.
func (r *SimpleSerialReader) current(now time.Time) *serialTag {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastTag != nil && now.Sub(r.lastTag.seen) > timeToForgetTag {
		log.Debug().Msg("serial tag removed")
		r.lastTag = nil
	}

	return r.lastTag
}

func (r *SimpleSerialReader) Poll(_ context.Context) ([]readers.Tag, error) {
	r.mu.Lock()
	gone := r.gone
	r.mu.Unlock()

	if gone {
		return nil, readers.ErrDeviceGone
	}

	t := r.current(time.Now())
	if t == nil {
		return nil, nil
	}

	return []readers.Tag{t}, nil
}

func (r *SimpleSerialReader) ConnectTag(tag readers.Tag) error {
	t := r.current(time.Now())
	if t == nil || t.uid != tag.UID() {
		return readers.ErrNoTag
	}
	return nil
}

func (r *SimpleSerialReader) Write(context.Context, []byte) (*tokens.Token, error) {
	return nil, readers.ErrWriteNotSupported
}

type serialTag struct {
	uid  string
	data []byte
	text string
	seen time.Time
}

func (t *serialTag) UID() string {
	return t.uid
}

func (t *serialTag) Type() string {
	return tokens.TypeSerial
}

func (t *serialTag) QueryNdefStatus() (readers.NdefStatus, int, error) {
	if len(t.data) == 0 && t.text == "" {
		return readers.NdefNotSupported, 0, nil
	}
	return readers.NdefReadOnly, len(t.data) + len(t.text), nil
}

func (t *serialTag) ReadNdef() ([]byte, error) {
	if len(t.data) > 0 {
		return t.data, nil
	} else if t.text != "" {
		return tokens.BuildPayloadMessage([]byte(t.text))
	}
	return nil, readers.ErrNoNdef
}

func (t *serialTag) WriteNdef([]byte) error {
	return errors.Join(readers.ErrWriteNotSupported, readers.ErrTagReadOnly)
}
