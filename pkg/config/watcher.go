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

package config

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

var reloadDelay = 1 * time.Second

// Watch reloads the config file when it changes on disk and then calls
// onReload. The returned function stops the watcher.
func (c *UserConfig) Watch(onReload func()) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	reload := func() {
		log.Info().Msg("config file changed, reloading")
		err := c.LoadConfig()
		if err != nil {
			log.Error().Err(err).Msg("error reloading config")
			return
		}
		if onReload != nil {
			onReload()
		}
	}

	go func() {
		// a single save usually emits several write events and some editors
		// replace the file instead, which drops the watch
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if time.Since(c.LoadTime()) < reloadDelay {
						continue
					}
					time.Sleep(reloadDelay)
					reload()
				} else if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					time.Sleep(reloadDelay)
					_, err := os.Stat(c.IniPath)
					if err == nil {
						err = watcher.Add(c.IniPath)
						if err != nil {
							log.Error().Err(err).Msg("error watching config")
						}
						reload()
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Msgf("watcher error: %s", err)
			}
		}
	}()

	err = watcher.Add(c.IniPath)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return watcher.Close, nil
}
