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

// Package relay reports scanned identifiers to the configured endpoint.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/tokens"
)

var (
	ErrEmptyRole = errors.New("relay role is empty")
	ErrEmptyId   = errors.New("relay id is empty")
)

// Request is the JSON body posted to the relay endpoint.
type Request struct {
	Role string `json:"role"`
	Id   string `json:"id"`
}

func BuildRequest(id tokens.Identifier, cfg config.Relay) (Request, error) {
	req := Request{
		Role: cfg.Role,
		Id:   id.String(),
	}

	if req.Role == "" {
		return req, ErrEmptyRole
	} else if req.Id == "" {
		return req, ErrEmptyId
	}

	return req, nil
}

// Endpoint returns the URL requests are posted to.
func Endpoint(cfg config.Relay) string {
	return "http://" + net.JoinHostPort(cfg.Host, cfg.Port) + "/"
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeServerError
	OutcomeTransportError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeServerError:
		return "server error"
	case OutcomeTransportError:
		return "transport error"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind     OutcomeKind
	Status   int
	Err      error
	Request  Request
	Url      string
	Sent     time.Time
	Duration time.Duration
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "success"
	case OutcomeServerError:
		return fmt.Sprintf("server error: status %d", o.Status)
	default:
		return fmt.Sprintf("transport error: %s", o.Err)
	}
}

type Client struct {
	http *http.Client
}

// NewClient returns a client using hc, or a default http.Client with no
// timeout overrides if hc is nil.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{http: hc}
}

// Send makes a single POST attempt and classifies the result. Only status
// 200 is a success.
func (c *Client) Send(ctx context.Context, id tokens.Identifier, cfg config.Relay) (o Outcome) {
	o = Outcome{
		Url:  Endpoint(cfg),
		Sent: time.Now(),
	}
	defer func() {
		o.Duration = time.Since(o.Sent)
	}()

	req, err := BuildRequest(id, cfg)
	o.Request = req
	if err != nil {
		o.Kind = OutcomeTransportError
		o.Err = err
		return o
	}

	body, err := json.Marshal(req)
	if err != nil {
		o.Kind = OutcomeTransportError
		o.Err = fmt.Errorf("error encoding request: %w", err)
		return o
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Url, bytes.NewReader(body))
	if err != nil {
		o.Kind = OutcomeTransportError
		o.Err = err
		return o
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		o.Kind = OutcomeTransportError
		o.Err = err
		return o
	}
	defer func(body io.ReadCloser) {
		_, _ = io.Copy(io.Discard, body)
		err := body.Close()
		if err != nil {
			log.Error().Err(err).Msgf("closing body")
		}
	}(resp.Body)

	o.Status = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		o.Kind = OutcomeSuccess
	} else {
		o.Kind = OutcomeServerError
	}

	return o
}

// Dispatch sends the request in the background and passes the outcome to
// done. It never blocks the caller.
func (c *Client) Dispatch(id tokens.Identifier, cfg config.Relay, done func(Outcome)) {
	go func() {
		o := c.Send(context.Background(), id, cfg)
		if done != nil {
			done(o)
		}
	}()
}
