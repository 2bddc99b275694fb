package platforms

import (
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
)

type Platform interface {
	// Id returns a unique ID for this platform.
	Id() string
	// SupportedReaders returns a fresh instance of every reader driver the
	// platform can use.
	SupportedReaders(*config.UserConfig) []readers.Reader
	// Setup runs once when the service starts.
	Setup(*config.UserConfig) error
	// Stop runs once when the service stops.
	Stop() error
	ConfigFolder() string
	LogFolder() string
	DataFolder() string
	// ShowAlert presents a message to the user. It may block until the
	// alert is dismissed.
	ShowAlert(title, message string) error
}
