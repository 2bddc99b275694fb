package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/wizzomafizzo/taprelay/pkg/api/client"
	"github.com/wizzomafizzo/taprelay/pkg/api/models"
	"github.com/wizzomafizzo/taprelay/pkg/config"
	"github.com/wizzomafizzo/taprelay/pkg/database"
	"github.com/wizzomafizzo/taprelay/pkg/platforms"
	"github.com/wizzomafizzo/taprelay/pkg/utils"
)

type Flags struct {
	Write   *string
	Start   *bool
	Stop    *bool
	Status  *bool
	Api     *string
	Export  *string
	Version *bool
}

// SetupFlags defines all common CLI flags between platforms.
func SetupFlags() *Flags {
	return &Flags{
		Write: flag.String(
			"write",
			"",
			"write an identifier to the next tag scanned by the connected reader",
		),
		Start: flag.Bool(
			"start",
			false,
			"start a scan session",
		),
		Stop: flag.Bool(
			"stop",
			false,
			"stop the active scan session",
		),
		Status: flag.Bool(
			"status",
			false,
			"print the session and reader status",
		),
		Api: flag.String(
			"api",
			"",
			"send method and params to API and print response",
		),
		Export: flag.String(
			"export",
			"",
			"export scan history as CSV to given file, - for stdout",
		),
		Version: flag.Bool(
			"version",
			false,
			"print version and exit",
		),
	}
}

// Pre runs flag parsing and actions any immediate flags that don't
// require environment setup. Add any custom flags before running this.
func (f *Flags) Pre(pl platforms.Platform) {
	flag.Parse()

	if *f.Version {
		fmt.Printf("TapRelay v%s (%s)\n", config.Version, pl.Id())
		os.Exit(0)
	}
}

func exitErr(msg string, err error) {
	log.Error().Err(err).Msg(strings.ToLower(msg))
	_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func call(cfg *config.UserConfig, method string, params string) string {
	resp, err := client.LocalClient(cfg, method, params)
	if err != nil {
		exitErr("Error calling API", err)
	}
	return resp
}

// Post actions all remaining common flags that require the environment to be
// set up. Logging is allowed.
func (f *Flags) Post(cfg *config.UserConfig, pl platforms.Platform) {
	switch {
	case *f.Write != "":
		id, err := strconv.ParseInt(strings.TrimSpace(*f.Write), 10, 64)
		if err != nil {
			exitErr("Error parsing identifier", err)
		}

		data, err := json.Marshal(&models.ReaderWriteParams{Id: id})
		if err != nil {
			exitErr("Error encoding params", err)
		}

		fmt.Println("Hold a tag near the reader...")
		resp := call(cfg, models.MethodReadersWrite, string(data))

		var w models.WriteResponse
		err = json.Unmarshal([]byte(resp), &w)
		if err != nil {
			exitErr("Error decoding API response", err)
		}

		fmt.Printf("Wrote %d to tag %s\n", w.Id, w.UID)
		os.Exit(0)
	case *f.Start:
		call(cfg, models.MethodSessionStart, "")
		os.Exit(0)
	case *f.Stop:
		call(cfg, models.MethodSessionStop, "")
		os.Exit(0)
	case *f.Status:
		fmt.Println(call(cfg, models.MethodStatus, ""))
		os.Exit(0)
	case *f.Api != "":
		ps := strings.SplitN(*f.Api, ":", 2)
		method := ps[0]
		params := ""
		if len(ps) > 1 {
			params = ps[1]
		}

		fmt.Println(call(cfg, method, params))
		os.Exit(0)
	case *f.Export != "":
		err := exportHistory(cfg, pl, *f.Export)
		if err != nil {
			exitErr("Error exporting history", err)
		}
		os.Exit(0)
	}
}

// exportHistory writes the history CSV, fetched from the running service
// if there is one since it holds the database lock.
func exportHistory(cfg *config.UserConfig, pl platforms.Platform, path string) error {
	out := os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)
		out = f
	}

	resp, err := http.Get("http://localhost:" + cfg.GetApiPort() + "/api/v1/history.csv")
	if err == nil {
		defer func(body io.ReadCloser) {
			_ = body.Close()
		}(resp.Body)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status: %s", resp.Status)
		}

		_, err = io.Copy(out, resp.Body)
		return err
	}

	log.Debug().Err(err).Msg("service not reachable, reading database directly")

	db, err := database.Open(pl.DataFolder())
	if err != nil {
		return err
	}
	defer func(db *database.Database) {
		err := db.Close()
		if err != nil {
			log.Warn().Err(err).Msg("error closing database")
		}
	}(db)

	return db.ExportHistory(out)
}

// Setup loads the .env file next to the binary, initializes the user config
// and logging. Returns a user config object.
func Setup(pl platforms.Platform, defaultConfig *config.UserConfig) *config.UserConfig {
	envPath := config.EnvFilename
	if dir := utils.ExeDir(); dir != "" {
		envPath = filepath.Join(dir, config.EnvFilename)
	}
	if _, err := os.Stat(envPath); err == nil {
		err := godotenv.Load(envPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", envPath, err)
		}
	}

	cfg, err := config.NewUserConfig(defaultConfig)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	err = utils.InitLogging(cfg, pl.LogFolder())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}

	return cfg
}
