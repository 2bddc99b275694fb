//go:build linux

package linux

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/readers/file"
	"github.com/wizzomafizzo/taprelay/pkg/readers/libnfc"
	"github.com/wizzomafizzo/taprelay/pkg/readers/pcsc"
	"github.com/wizzomafizzo/taprelay/pkg/readers/simple_serial"
)

type Platform struct{}

func (p *Platform) Id() string {
	return "linux"
}

func (p *Platform) SupportedReaders(cfg *config.UserConfig) []readers.Reader {
	return []readers.Reader{
		libnfc.NewReader(cfg),
		pcsc.NewReader(cfg),
		file.NewReader(),
		simple_serial.NewReader(),
	}
}

func (p *Platform) Setup(_ *config.UserConfig) error {
	return os.MkdirAll(p.DataFolder(), 0755)
}

func (p *Platform) Stop() error {
	return nil
}

func xdgDir(env string, fallback ...string) string {
	dir := os.Getenv(env)
	if dir != "" {
		return filepath.Join(dir, config.AppName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), config.AppName)
	}

	return filepath.Join(append(append([]string{home}, fallback...), config.AppName)...)
}

func (p *Platform) ConfigFolder() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

func (p *Platform) LogFolder() string {
	return xdgDir("XDG_STATE_HOME", ".local", "state")
}

func (p *Platform) DataFolder() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// ShowAlert sends a desktop notification. Headless systems without
// notify-send only get the log entry.
func (p *Platform) ShowAlert(title, message string) error {
	path, err := exec.LookPath("notify-send")
	if errors.Is(err, exec.ErrNotFound) {
		log.Debug().Msg("notify-send not found, skipping alert")
		return nil
	} else if err != nil {
		return err
	}

	return exec.Command(path, "--app-name", config.AppName, title, message).Run()
}
