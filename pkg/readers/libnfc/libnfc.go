//go:build (linux || darwin) && cgo

/*
TapRelay
Copyright (C) 2023 Gareth Jones
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

package libnfc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clausecker/nfc/v2"
	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
	"github.com/wizzomafizzo/taprelay/pkg/utils"
	"golang.org/x/exp/slices"
)

const (
	connectMaxTries    = 10
	timesToPoll        = 1
	periodBetweenPolls = 150 * time.Millisecond
	transceiveTimeout  = 0
)

const (
	ReaderTypePN532   = "PN532"
	ReaderTypeACR122U = "ACR122U"
	ReaderTypeUnknown = "Unknown"
)

const (
	cmdRead  = 0x30
	cmdWrite = 0xA2
)

var supportedCardTypes = []nfc.Modulation{
	{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106},
}

type Reader struct {
	cfg      *config.UserConfig
	mu       sync.Mutex
	conn     string
	pnd      *nfc.Device
	sessions readers.Sessions
}

func NewReader(cfg *config.UserConfig) *Reader {
	return &Reader{
		cfg: cfg,
	}
}

func (r *Reader) Ids() []string {
	return []string{"pn532_uart", "pn532_i2c", "acr122_usb", "pn53x_usb"}
}

func (r *Reader) Open(device string) error {
	_, _, err := readers.ParseDevice(device, r.Ids())
	if err != nil {
		return err
	}

	pnd, err := openDeviceWithRetries(device)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = device
	r.pnd = &pnd

	return nil
}

func (r *Reader) Close() error {
	r.sessions.Terminate("reader closed")

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pnd == nil {
		return nil
	}

	err := r.pnd.Close()
	r.pnd = nil
	return err
}

func (r *Reader) Detect(connected []string) string {
	if !r.cfg.GetProbeDevice() {
		return ""
	}

	device := detectConnectionString(utils.NewSerialFilter(r.cfg.GetIgnoreSerial()))
	if device == "" {
		return ""
	}

	if slices.Contains(connected, device) {
		return ""
	}

	return device
}

func (r *Reader) Device() string {
	return r.conn
}

func (r *Reader) ReadingAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pnd != nil && r.pnd.Connection() != ""
}

func (r *Reader) Info() string {
	if !r.ReadingAvailable() {
		return ""
	}

	connProto := strings.SplitN(strings.ToLower(r.conn), ":", 2)[0]

	r.mu.Lock()
	deviceName := r.pnd.String()
	r.mu.Unlock()

	if connProto == "pn532_uart" || connProto == "pn532_i2c" {
		return ReaderTypePN532
	} else if strings.Contains(deviceName, "ACR122U") {
		return ReaderTypeACR122U
	} else {
		return ReaderTypeUnknown
	}
}

func (r *Reader) NewSession(opts readers.SessionOptions, sink readers.Sink) (readers.Session, error) {
	if !r.ReadingAvailable() {
		return nil, readers.ErrNotConnected
	}
	return r.sessions.New(r, opts, sink)
}

func (r *Reader) Poll(_ context.Context) ([]readers.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pnd == nil {
		return nil, readers.ErrDeviceGone
	}

	count, target, err := r.pnd.InitiatorPollTarget(supportedCardTypes, timesToPoll, periodBetweenPolls)
	if errors.Is(err, nfc.Error(nfc.EIO)) {
		log.Error().Msgf("fatal IO error, device was possibly unplugged: %s", err)
		return nil, readers.ErrDeviceGone
	} else if err != nil && !errors.Is(err, nfc.Error(nfc.ETIMEOUT)) {
		return nil, err
	}

	if count <= 0 {
		return nil, nil
	} else if count > 1 {
		log.Info().Msg("more than one card on the reader")
	}

	uid, tagType := describeTarget(target)
	if uid == "" {
		log.Warn().Msgf("unable to detect token UID: %s", target.String())
	}

	return []readers.Tag{readers.NewType2Tag(uid, tagType, &pageIO{r: r})}, nil
}

func describeTarget(target nfc.Target) (string, string) {
	switch t := target.(type) {
	case *nfc.ISO14443aTarget:
		uid := hex.EncodeToString(t.UID[:t.UIDLen])
		// SAK 0x00 is a Type 2 tag, 0x08/0x18 are MIFARE Classic
		if t.Sak == 0x00 {
			return uid, tokens.TypeNTAG
		} else if t.Sak&0x18 != 0 {
			return uid, tokens.TypeMifare
		}
		return uid, tokens.TypeISO
	default:
		return "", tokens.TypeISO
	}
}

// ConnectTag checks the tag still answers by reading its first pages.
func (r *Reader) ConnectTag(tag readers.Tag) error {
	if tag.Type() != tokens.TypeNTAG {
		return fmt.Errorf("%w: %s", readers.ErrTagNotSupported, tag.Type())
	}

	p := &pageIO{r: r}
	_, err := p.ReadPages(0)
	if err != nil {
		return fmt.Errorf("tag did not respond: %w", err)
	}
	return nil
}

func (r *Reader) Write(ctx context.Context, message []byte) (*tokens.Token, error) {
	if r.sessions.Active() {
		return nil, readers.NewReaderError(readers.CodeSystemIsBusy, "a session is active")
	}

	log.Info().Msgf("write request: %s", hex.EncodeToString(message))

	tag, err := readers.WaitAndWrite(ctx, r, message)
	if err != nil {
		log.Error().Err(err).Msg("error writing to tag")
		return nil, err
	}

	log.Info().Msgf("successfully wrote to tag: %s", tag.UID())

	return &tokens.Token{
		Type:     tag.Type(),
		UID:      tag.UID(),
		Data:     hex.EncodeToString(message),
		ScanTime: time.Now(),
		Source:   r.conn,
	}, nil
}

type pageIO struct {
	r *Reader
}

func (p *pageIO) ReadPages(page byte) ([]byte, error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()

	if p.r.pnd == nil {
		return nil, readers.ErrDeviceGone
	}

	rx := make([]byte, 16)
	n, err := p.r.pnd.InitiatorTransceiveBytes([]byte{cmdRead, page}, rx, transceiveTimeout)
	if err != nil {
		return nil, err
	}
	if n < 16 {
		return nil, fmt.Errorf("short read of page %d: %d bytes", page, n)
	}

	return rx, nil
}

func (p *pageIO) WritePage(page byte, data []byte) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()

	if p.r.pnd == nil {
		return readers.ErrDeviceGone
	}

	tx := append([]byte{cmdWrite, page}, data...)
	rx := make([]byte, 1)
	_, err := p.r.pnd.InitiatorTransceiveBytes(tx, rx, transceiveTimeout)
	return err
}

func detectConnectionString(filter *utils.SerialFilter) string {
	log.Info().Msg("probing for serial devices")
	devices, err := utils.GetSerialDeviceList(filter)
	if err != nil {
		log.Error().Err(err).Msg("error listing serial devices")
		return ""
	}

	for _, device := range devices {
		connectionString := "pn532_uart:" + device
		log.Info().Msgf("trying %s", connectionString)
		pnd, err := nfc.Open(connectionString)
		if err == nil {
			log.Info().Msgf("success using serial: %s", connectionString)
			_ = pnd.Close()
			return connectionString
		}
	}

	return ""
}

func openDeviceWithRetries(device string) (nfc.Device, error) {
	log.Info().Msgf("connecting to device: %s", device)

	tries := 0
	for {
		pnd, err := nfc.Open(device)
		if err == nil {
			log.Info().Msgf("successful connect after %d tries", tries)
			log.Info().Msgf("device name: %s", pnd.String())

			err = pnd.InitiatorInit()
			if err == nil {
				return pnd, nil
			}

			log.Error().Msgf("could not init initiator: %s", err)
			_ = pnd.Close()
		}

		if tries >= connectMaxTries {
			log.Error().Msgf("could not open device after %d tries: %s", connectMaxTries, err)
			return pnd, err
		}

		tries++
	}
}
