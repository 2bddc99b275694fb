package models

import "github.com/google/uuid"

const (
	NotificationSessionState = "session.state"
	NotificationSessionAlert = "session.alert"
	NotificationScanToken    = "scan.token"
	NotificationRelayOutcome = "relay.outcome"
	NotificationReaderAdded  = "readers.added"
	NotificationReaderRemove = "readers.removed"
	MethodStatus             = "status"
	MethodHistory            = "history"
	MethodHistoryRelays      = "history.relays"
	MethodSessionStart       = "session.start"
	MethodSessionStop        = "session.stop"
	MethodReadersWrite       = "readers.write"
	MethodSettings           = "settings"
	MethodSettingsUpdate     = "settings.update"
	MethodVersion            = "version"
)

type Notification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type RequestObject struct {
	JsonRpc string     `json:"jsonrpc"`
	Id      *uuid.UUID `json:"id,omitempty"` // omitted for notifications
	Method  string     `json:"method"`
	Params  any        `json:"params,omitempty"`
}

type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ResponseObject struct {
	JsonRpc string       `json:"jsonrpc"`
	Id      uuid.UUID    `json:"id"`
	Result  any          `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}
