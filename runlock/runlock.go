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

// Package runlock keeps two scheduling passes of the same kind from
// running at once.  A lock is a file named <pattern>.<timestamp>.locker;
// any file matching <pattern>*.locker blocks a new acquire.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const timeFormat = "06-01-02_15:04:05"

var ErrAlreadyRunning = errors.New("a previous run has not completed yet")

type Lock struct {
	Path string
}

// Existing lists the lockers currently matching pattern.
func Existing(pattern string) ([]string, error) {
	lockers, err := filepath.Glob(pattern + "*.locker")
	if err != nil {
		return nil, errors.Wrapf(err, "invalid locker pattern %s", pattern)
	}
	return lockers, nil
}

// Acquire creates a new locker for pattern, e.g. ~/.rp-run, unless one
// already exists.
func Acquire(pattern string) (*Lock, error) {
	return acquireAt(pattern, time.Now())
}

func acquireAt(pattern string, now time.Time) (*Lock, error) {
	lockers, err := Existing(pattern)
	if err != nil {
		return nil, err
	}
	if len(lockers) > 0 {
		return nil, errors.Wrapf(ErrAlreadyRunning, "locker(s) found:\n    %s", strings.Join(lockers, "\n    "))
	}
	if dir := filepath.Dir(pattern); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create locker directory %s", dir)
		}
	}

	path := fmt.Sprintf("%s.%s.locker", pattern, now.Format(timeFormat))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(ErrAlreadyRunning, "locker %s found", path)
		}
		return nil, errors.Wrapf(err, "failed to create locker %s", path)
	}
	cwd, _ := os.Getwd()
	_, err = fmt.Fprintf(f, "pid: %d\ncreated: %s\nlocation of code execution: %s\n", os.Getpid(), now.Format(time.RFC3339), cwd)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, "failed to write locker %s", path)
	}
	log.Infof("creating %s", path)
	return &Lock{Path: path}, nil
}

// Release removes the locker.  Releasing a nil lock or one already
// removed is not an error.
func (l *Lock) Release() error {
	if l == nil || l.Path == "" {
		return nil
	}
	log.Infof("removing %s", l.Path)
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove locker %s", l.Path)
	}
	l.Path = ""
	return nil
}
