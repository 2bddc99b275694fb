package client

import (
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api"
	"github.com/wizzomafizzo/taprelay/pkg/api/models"
	"github.com/wizzomafizzo/taprelay/pkg/config"
)

const dialTimeout = 5 * time.Second

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrInvalidParams  = errors.New("invalid params")
)

// RpcError is an error object returned by the service in reply to a call.
type RpcError struct {
	Code    int
	Message string
}

func (e *RpcError) Error() string {
	return e.Message
}

// LocalClient calls a method on the service running on this machine.
func LocalClient(
	cfg *config.UserConfig,
	method string,
	params string,
) (string, error) {
	return Call(net.JoinHostPort("localhost", cfg.GetApiPort()), method, params)
}

func newRequest(method string, params string) (models.RequestObject, error) {
	id := uuid.New()
	req := models.RequestObject{
		JsonRpc: "2.0",
		Id:      &id,
		Method:  method,
	}

	if params == "" {
		return req, nil
	}

	var ps any
	err := json.Unmarshal([]byte(params), &ps)
	if err != nil {
		return req, ErrInvalidParams
	}
	req.Params = ps

	return req, nil
}

// Call sends one JSON-RPC request to the API at host (with port) and waits
// for the matching response. Notifications received in the meantime are
// skipped. The result is returned as raw JSON.
func Call(host string, method string, params string) (string, error) {
	req, err := newRequest(method, params)
	if err != nil {
		return "", err
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/"}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	c, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return "", err
	}
	defer func(c *websocket.Conn) {
		err := c.Close()
		if err != nil {
			log.Warn().Err(err).Msg("error closing websocket")
		}
	}(c)

	err = c.WriteJSON(req)
	if err != nil {
		return "", err
	}

	err = c.SetReadDeadline(time.Now().Add(api.RequestTimeout + time.Second))
	if err != nil {
		return "", err
	}

	for {
		_, msg, err := c.ReadMessage()
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return "", ErrRequestTimeout
		} else if err != nil {
			return "", err
		}

		var resp struct {
			JsonRpc string              `json:"jsonrpc"`
			Id      uuid.UUID           `json:"id"`
			Result  json.RawMessage     `json:"result"`
			Error   *models.ErrorObject `json:"error"`
		}
		err = json.Unmarshal(msg, &resp)
		if err != nil || resp.Id != *req.Id {
			continue
		}

		if resp.JsonRpc != "2.0" {
			log.Warn().Str("jsonrpc", resp.JsonRpc).Msg("unexpected response version")
		}

		if resp.Error != nil {
			return "", &RpcError{Code: resp.Error.Code, Message: resp.Error.Message}
		}

		if len(resp.Result) == 0 {
			return "null", nil
		}
		return string(resp.Result), nil
	}
}
