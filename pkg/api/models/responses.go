package models

import (
	"time"
)

type SessionResponse struct {
	State      string     `json:"state"`
	Generation uint64     `json:"generation"`
	Id         string     `json:"id,omitempty"`
	Device     string     `json:"device,omitempty"`
	Started    *time.Time `json:"started,omitempty"`
}

type AlertResponse struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type TokenResponse struct {
	Type      string    `json:"type"`
	UID       string    `json:"uid"`
	Data      string    `json:"data"`
	Id        int64     `json:"id"`
	ScanTime  time.Time `json:"scanTime"`
	Source    string    `json:"source"`
	SessionId string    `json:"sessionId"`
}

type RelayOutcomeResponse struct {
	Outcome  string    `json:"outcome"`
	Status   int       `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	Url      string    `json:"url"`
	Role     string    `json:"role"`
	Id       string    `json:"id"`
	Sent     time.Time `json:"sent"`
	Duration int64     `json:"durationMs"`
}

type ReaderResponse struct {
	Connected bool   `json:"connected"`
	Device    string `json:"device"`
	Info      string `json:"info"`
}

type StatusResponse struct {
	Session   SessionResponse       `json:"session"`
	Readers   []ReaderResponse      `json:"readers"`
	LastToken *TokenResponse        `json:"lastToken,omitempty"`
	LastRelay *RelayOutcomeResponse `json:"lastRelay,omitempty"`
}

type HistoryResponseEntry struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	SessionId string    `json:"sessionId"`
	Device    string    `json:"device"`
	UID       string    `json:"uid"`
	Type      string    `json:"type"`
	Id        *int64    `json:"id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
}

type HistoryResponse struct {
	Entries []HistoryResponseEntry `json:"entries"`
}

type RelayHistoryResponseEntry struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	Url      string    `json:"url"`
	Role     string    `json:"role"`
	Id       string    `json:"id"`
	Outcome  string    `json:"outcome"`
	Status   int       `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	Duration int64     `json:"durationMs"`
}

type RelayHistoryResponse struct {
	Entries []RelayHistoryResponseEntry `json:"entries"`
}

type SettingsResponse struct {
	RelayHost            string   `json:"relayHost"`
	RelayPort            string   `json:"relayPort"`
	RelayRole            string   `json:"relayRole"`
	Readers              []string `json:"readers"`
	ProbeDevice          bool     `json:"probeDevice"`
	AutoStart            bool     `json:"autoStart"`
	SessionTimeout       int      `json:"sessionTimeout"`
	StopAfterFirstRead   bool     `json:"stopAfterFirstRead"`
	FormatBlankTags      bool     `json:"formatBlankTags"`
	RejectNonPositiveIds bool     `json:"rejectNonPositiveIds"`
	Debug                bool     `json:"debug"`
}

type WriteResponse struct {
	UID  string `json:"uid"`
	Type string `json:"type"`
	Id   int64  `json:"id"`
}

type VersionResponse struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
}
