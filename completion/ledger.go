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

package completion

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LedgerFile is the ledger name under the local top outdir.
const LedgerFile = "transferred_GSMs.txt"

const ledgerTimeFormat = "06-01-02 15:04:05"

// Ledger is an append-only list of identifiers.  Lines starting with '#'
// carry timestamps and are ignored when reading.
type Ledger struct {
	Path string
}

func NewLedger(localTopOutdir string) *Ledger {
	return &Ledger{Path: filepath.Join(localTopOutdir, LedgerFile)}
}

// Load returns every identifier in file order.  A missing ledger is empty.
func (l *Ledger) Load() ([]string, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to open ledger %s", l.Path)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read ledger %s", l.Path)
	}
	return ids, nil
}

// Contains reports whether id was recorded, matched exactly.
func (l *Ledger) Contains(id string) (bool, error) {
	ids, err := l.Load()
	if err != nil {
		return false, err
	}
	for _, known := range ids {
		if known == id {
			return true, nil
		}
	}
	return false, nil
}

// Append records ids under a timestamp header.
func (l *Ledger) Append(ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	f, err := os.OpenFile(l.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open ledger %s", l.Path)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# %s\n", now.Format(ledgerTimeFormat))
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write ledger %s", l.Path)
	}
	return errors.Wrapf(f.Close(), "failed to close ledger %s", l.Path)
}
