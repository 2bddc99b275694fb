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

// Package pcsc reads Type 2 tags through any PC/SC reader that supports
// the ACR122 style pseudo APDUs (get UID, read binary, update binary).
package pcsc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
	"golang.org/x/exp/slices"
)

var (
	apduGetUID = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
	swSuccess  = []byte{0x90, 0x00}
)

type Reader struct {
	cfg      *config.UserConfig
	mu       sync.Mutex
	device   string
	name     string
	ctx      *scard.Context
	card     *scard.Card
	cardUID  string
	sessions readers.Sessions
}

func NewReader(cfg *config.UserConfig) *Reader {
	return &Reader{
		cfg: cfg,
	}
}

func (r *Reader) Ids() []string {
	return []string{"pcsc"}
}

func (r *Reader) Open(device string) error {
	_, name, err := readers.ParseDevice(device, r.Ids())
	if err != nil {
		return err
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("error establishing pcsc context: %w", err)
	}

	names, err := ctx.ListReaders()
	if err != nil {
		_ = ctx.Release()
		return fmt.Errorf("error listing pcsc readers: %w", err)
	}

	if name == "" && len(names) > 0 {
		name = names[0]
	}

	if !slices.Contains(names, name) {
		_ = ctx.Release()
		return fmt.Errorf("pcsc reader not found: %s", name)
	}

	log.Info().Msgf("opened pcsc reader: %s", name)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.device = device
	r.name = name
	r.ctx = ctx

	return nil
}

func (r *Reader) Close() error {
	r.sessions.Terminate("reader closed")

	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnectCard()
	if r.ctx != nil {
		err := r.ctx.Release()
		r.ctx = nil
		return err
	}
	return nil
}

func (r *Reader) Detect(connected []string) string {
	if !r.cfg.GetProbeDevice() {
		return ""
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return ""
	}
	defer func(ctx *scard.Context) {
		_ = ctx.Release()
	}(ctx)

	names, err := ctx.ListReaders()
	if err != nil {
		log.Debug().Msgf("error listing pcsc readers: %s", err)
		return ""
	}

	log.Debug().Msgf("detected pcsc readers: %v", names)

	for _, name := range names {
		device := "pcsc:" + name
		if !slices.Contains(connected, device) {
			return device
		}
	}

	return ""
}

func (r *Reader) Device() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

func (r *Reader) ReadingAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx != nil
}

func (r *Reader) Info() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

func (r *Reader) NewSession(opts readers.SessionOptions, sink readers.Sink) (readers.Session, error) {
	if !r.ReadingAvailable() {
		return nil, readers.ErrNotConnected
	}
	return r.sessions.New(r, opts, sink)
}

// disconnectCard must be called with mu held.
func (r *Reader) disconnectCard() {
	if r.card != nil {
		err := r.card.Disconnect(scard.LeaveCard)
		if err != nil {
			log.Debug().Err(err).Msg("error disconnecting card")
		}
	}
	r.card = nil
	r.cardUID = ""
}

func (r *Reader) Poll(_ context.Context) ([]readers.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx == nil {
		return nil, readers.ErrDeviceGone
	}

	if r.card != nil {
		// same card still present?
		uid, err := getUID(r.card)
		if err == nil && uid == r.cardUID {
			return []readers.Tag{r.newTag()}, nil
		}
		log.Info().Msg("card removed")
		r.disconnectCard()
	}

	card, err := r.ctx.Connect(r.name, scard.ShareShared, scard.ProtocolAny)
	if errors.Is(err, scard.ErrNoSmartcard) || errors.Is(err, scard.ErrRemovedCard) {
		return nil, nil
	} else if errors.Is(err, scard.ErrReaderUnavailable) || errors.Is(err, scard.ErrUnknownReader) {
		return nil, readers.ErrDeviceGone
	} else if err != nil {
		return nil, err
	}

	uid, err := getUID(card)
	if err != nil {
		_ = card.Disconnect(scard.LeaveCard)
		return nil, fmt.Errorf("error getting card uid: %w", err)
	}

	log.Info().Msgf("found token UID: %s", uid)
	r.card = card
	r.cardUID = uid

	return []readers.Tag{r.newTag()}, nil
}

// newTag must be called with mu held.
func (r *Reader) newTag() readers.Tag {
	return readers.NewType2Tag(r.cardUID, tokens.TypeNTAG, &pageIO{r: r, card: r.card})
}

func (r *Reader) ConnectTag(tag readers.Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.card == nil || r.cardUID != tag.UID() {
		return readers.ErrNoTag
	}

	uid, err := getUID(r.card)
	if err != nil {
		return err
	} else if uid != tag.UID() {
		return readers.ErrNoTag
	}

	return nil
}

func (r *Reader) Write(ctx context.Context, message []byte) (*tokens.Token, error) {
	if r.sessions.Active() {
		return nil, readers.NewReaderError(readers.CodeSystemIsBusy, "a session is active")
	}

	tag, err := readers.WaitAndWrite(ctx, r, message)
	if err != nil {
		return nil, err
	}

	return &tokens.Token{
		Type:     tag.Type(),
		UID:      tag.UID(),
		Data:     hex.EncodeToString(message),
		ScanTime: time.Now(),
		Source:   r.Device(),
	}, nil
}

type transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

func transmit(t transmitter, cmd []byte) ([]byte, error) {
	rsp, err := t.Transmit(cmd)
	if err != nil {
		return nil, err
	}

	if len(rsp) < 2 {
		return nil, fmt.Errorf("short apdu response: %x", rsp)
	}

	sw := rsp[len(rsp)-2:]
	if sw[0] != swSuccess[0] || sw[1] != swSuccess[1] {
		return nil, fmt.Errorf("apdu failed: %x", sw)
	}

	return rsp[:len(rsp)-2], nil
}

func getUID(t transmitter) (string, error) {
	data, err := transmit(t, apduGetUID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}

type pageIO struct {
	r    *Reader
	card transmitter
}

func (p *pageIO) ReadPages(page byte) ([]byte, error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	return readPages(p.card, page)
}

func (p *pageIO) WritePage(page byte, data []byte) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	return writePage(p.card, page, data)
}

func readPages(t transmitter, page byte) ([]byte, error) {
	data, err := transmit(t, []byte{0xFF, 0xB0, 0x00, page, 0x10})
	if err != nil {
		return nil, fmt.Errorf("error reading page %d: %w", page, err)
	}
	if len(data) < 16 {
		return nil, fmt.Errorf("short read of page %d: %d bytes", page, len(data))
	}
	return data[:16], nil
}

func writePage(t transmitter, page byte, data []byte) error {
	if len(data) != 4 {
		return fmt.Errorf("invalid page write size: %d", len(data))
	}
	cmd := append([]byte{0xFF, 0xD6, 0x00, page, 0x04}, data...)
	_, err := transmit(t, cmd)
	return err
}
