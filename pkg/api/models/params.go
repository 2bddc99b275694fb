package models

type HistoryParams struct {
	MaxResults *int `json:"maxResults"`
}

type ReaderWriteParams struct {
	Id int64 `json:"id"`
}

type UpdateSettingsParams struct {
	RelayHost            *string   `json:"relayHost"`
	RelayPort            *string   `json:"relayPort"`
	RelayRole            *string   `json:"relayRole"`
	Readers              *[]string `json:"readers"`
	ProbeDevice          *bool     `json:"probeDevice"`
	AutoStart            *bool     `json:"autoStart"`
	StopAfterFirstRead   *bool     `json:"stopAfterFirstRead"`
	FormatBlankTags      *bool     `json:"formatBlankTags"`
	RejectNonPositiveIds *bool     `json:"rejectNonPositiveIds"`
	Debug                *bool     `json:"debug"`
}
