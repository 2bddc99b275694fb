//go:build darwin

package mac

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/readers/file"
	"github.com/wizzomafizzo/taprelay/pkg/readers/pcsc"
	"github.com/wizzomafizzo/taprelay/pkg/readers/simple_serial"
	"github.com/wizzomafizzo/taprelay/pkg/utils"
)

type Platform struct{}

func (p *Platform) Id() string {
	return "mac"
}

func (p *Platform) SupportedReaders(cfg *config.UserConfig) []readers.Reader {
	return []readers.Reader{
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

func (p *Platform) ConfigFolder() string {
	return filepath.Join(utils.ExeDir(), "data")
}

func (p *Platform) LogFolder() string {
	return filepath.Join(utils.ExeDir(), "logs")
}

func (p *Platform) DataFolder() string {
	return filepath.Join(utils.ExeDir(), "data")
}

func (p *Platform) ShowAlert(title, message string) error {
	script := "display dialog " + strconv.Quote(message) +
		" with title " + strconv.Quote(title) +
		" buttons {\"OK\"} default button \"OK\""
	return exec.Command("osascript", "-e", script).Run()
}
