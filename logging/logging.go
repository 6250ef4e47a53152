/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log/term"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

var logFHandle *os.File

// hookLevels returns every level at or above the configured verbosity.
func hookLevels(configLevel log.Level) []log.Level {
	levels := make([]log.Level, 0, len(log.AllLevels))
	for _, lvl := range log.AllLevels {
		if lvl <= configLevel {
			levels = append(levels, lvl)
		}
	}
	return levels
}

// ParseLevel maps a configured level name to a logrus level.  An empty
// name means Info; debug forces Debug regardless of the name.
func ParseLevel(name string, debug bool) (log.Level, error) {
	if debug {
		return log.DebugLevel, nil
	}
	if strings.TrimSpace(name) == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel, errors.Wrapf(err, "invalid Logging.Level %q", name)
	}
	return lvl, nil
}

// SetupLogging configures the standard logger.  Entries always go to
// stderr; when location is non-empty they are also appended to that file.
func SetupLogging(location, level string, debug bool) error {
	lvl, err := ParseLevel(level, debug)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)

	if location == "" {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:          true,
			ForceColors:            term.IsTerminal(os.Stderr),
			DisableLevelTruncation: true,
		})
		return nil
	}

	if dir := filepath.Dir(location); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return errors.Wrapf(err, "failed to create log directory %s", dir)
		}
	}
	f, err := os.OpenFile(location, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return errors.Wrapf(err, "failed to open log file %s", location)
	}
	CloseLogger()
	logFHandle = f

	// The formatter is shared by both hooks, so colours stay off.
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:          true,
		DisableColors:          true,
		DisableLevelTruncation: true,
	})
	log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	log.SetOutput(io.Discard)
	levels := hookLevels(lvl)
	log.AddHook(&writer.Hook{Writer: os.Stderr, LogLevels: levels})
	log.AddHook(&writer.Hook{Writer: f, LogLevels: levels})
	return nil
}

// CloseLogger closes the log file, if any.  Mostly useful in tests.
func CloseLogger() {
	if logFHandle != nil {
		_ = logFHandle.Close()
		logFHandle = nil
	}
}
