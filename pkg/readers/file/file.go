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

// Package file is a reader backed by a text file. While the file is not
// empty a tag is on the reader. The file holds either a hex encoded NDEF
// message or a raw record payload such as {"id": 42}.
package file

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

const fileCapacity = 4096

type FileReader struct {
	mu       sync.Mutex
	device   string
	path     string
	opened   bool
	sessions readers.Sessions
}

func NewReader() *FileReader {
	return &FileReader{}
}

func (r *FileReader) Ids() []string {
	return []string{"file"}
}

func (r *FileReader) Open(device string) error {
	_, path, err := readers.ParseDevice(device, r.Ids())
	if err != nil {
		return err
	}

	if !filepath.IsAbs(path) {
		return errors.New("invalid device path, must be absolute")
	}

	parent := filepath.Dir(path)
	if parent == "" {
		return errors.New("invalid device path")
	}

	if _, err := os.Stat(parent); err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		// attempt to create empty file
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		_ = f.Close()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.device = device
	r.path = path
	r.opened = true

	return nil
}

func (r *FileReader) Close() error {
	r.mu.Lock()
	r.opened = false
	r.mu.Unlock()

	r.sessions.Terminate("reader closed")
	return nil
}

func (r *FileReader) Detect(_ []string) string {
	return ""
}

func (r *FileReader) Device() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

func (r *FileReader) ReadingAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened
}

func (r *FileReader) Info() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *FileReader) NewSession(opts readers.SessionOptions, sink readers.Sink) (readers.Session, error) {
	if !r.ReadingAvailable() {
		return nil, readers.ErrNotConnected
	}
	return r.sessions.New(r, opts, sink)
}

func (r *FileReader) Poll(_ context.Context) ([]readers.Tag, error) {
	r.mu.Lock()
	opened, path := r.opened, r.path
	r.mu.Unlock()

	if !opened {
		return nil, readers.ErrDeviceGone
	}

	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, readers.ErrDeviceGone
	} else if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(contents))
	if text == "" {
		return nil, nil
	}

	return []readers.Tag{&fileTag{
		uid:  fileUID(path),
		path: path,
		text: text,
	}}, nil
}

func (r *FileReader) ConnectTag(tag readers.Tag) error {
	ft, ok := tag.(*fileTag)
	if !ok {
		return errors.New("not a file tag")
	}

	contents, err := os.ReadFile(ft.path)
	if err != nil {
		return err
	}

	// "removed" if the file was emptied since the poll
	if strings.TrimSpace(string(contents)) == "" {
		return readers.ErrNoTag
	}

	return nil
}

// Write replaces the file contents with the hex encoded message. The file
// is always on the reader so this never waits.
func (r *FileReader) Write(_ context.Context, message []byte) (*tokens.Token, error) {
	if r.sessions.Active() {
		return nil, readers.NewReaderError(readers.CodeSystemIsBusy, "a session is active")
	}

	r.mu.Lock()
	opened, path, device := r.opened, r.path, r.device
	r.mu.Unlock()

	if !opened {
		return nil, readers.ErrNotConnected
	}

	tag := &fileTag{uid: fileUID(path), path: path}
	err := tag.WriteNdef(message)
	if err != nil {
		return nil, err
	}

	log.Info().Msgf("wrote message to file: %s", path)

	return &tokens.Token{
		Type:     tokens.TypeFile,
		UID:      tag.uid,
		Data:     hex.EncodeToString(message),
		ScanTime: time.Now(),
		Source:   device,
	}, nil
}

func fileUID(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:7])
}

type fileTag struct {
	uid  string
	path string
	text string
}

func (t *fileTag) UID() string {
	return t.uid
}

func (t *fileTag) Type() string {
	return tokens.TypeFile
}

func (t *fileTag) QueryNdefStatus() (readers.NdefStatus, int, error) {
	return readers.NdefReadWrite, fileCapacity, nil
}

// ReadNdef returns the file as an NDEF message, wrapping the text in a
// record if it is not already a hex encoded message.
func (t *fileTag) ReadNdef() ([]byte, error) {
	if t.text == "" {
		return nil, readers.ErrNoNdef
	}

	data, err := hex.DecodeString(t.text)
	if err == nil {
		if _, err := tokens.FirstRecordPayload(data); err == nil {
			return data, nil
		}
	}

	return tokens.BuildPayloadMessage([]byte(t.text))
}

func (t *fileTag) WriteNdef(message []byte) error {
	if len(message) > fileCapacity {
		return errors.New("message too big for file")
	}
	return os.WriteFile(t.path, []byte(hex.EncodeToString(message)), 0644)
}
