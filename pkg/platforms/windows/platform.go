//go:build windows

package windows

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/readers"
	"github.com/wizzomafizzo/taprelay/pkg/readers/file"
	"github.com/wizzomafizzo/taprelay/pkg/readers/pcsc"
	"github.com/wizzomafizzo/taprelay/pkg/readers/simple_serial"
	"github.com/wizzomafizzo/taprelay/pkg/utils"
)

type Platform struct{}

func (p *Platform) Id() string {
	return "windows"
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
	return utils.ExeDir()
}

func (p *Platform) LogFolder() string {
	return utils.ExeDir()
}

func (p *Platform) DataFolder() string {
	// TODO: this could be AppData instead
	return filepath.Join(utils.ExeDir(), "data")
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (p *Platform) ShowAlert(title, message string) error {
	script := fmt.Sprintf(
		"Add-Type -AssemblyName PresentationFramework; [System.Windows.MessageBox]::Show(%s, %s)",
		psQuote(message),
		psQuote(title),
	)
	return exec.Command("powershell", "-NoProfile", "-Command", script).Run()
}
