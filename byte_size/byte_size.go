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

// Package byte_size converts between human-readable disk sizes such as
// "50 GB" or "1.5 TB" and byte counts. All multiples are binary
// (1 KB = 1024 bytes) so that values line up with what df and du report.
package byte_size

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/units"
	"github.com/grafana/regexp"
	"github.com/pkg/errors"
)

// ByteSize is a (possibly fractional) number of bytes.
type ByteSize float64

// ErrInvalidSize is returned for size strings with an unknown unit or a
// malformed number.
var ErrInvalidSize = errors.New("invalid size")

var (
	sizeRegexp = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(bytes|byte|kb|mb|gb|tb|pb)$`)

	multipliers = map[string]float64{
		"byte":  1,
		"bytes": 1,
		"kb":    float64(units.KiB),
		"mb":    float64(units.MiB),
		"gb":    float64(units.GiB),
		"tb":    float64(units.TiB),
		"pb":    float64(units.PiB),
	}

	// Display steps; anything beyond TB is rendered in PB.
	displayUnits = []string{"bytes", "KB", "MB", "GB", "TB"}
)

// ParseSize parses strings like "1024 bytes", "1.5GB" or "2   tb".
// Units are case-insensitive; anything outside byte(s)/KB/MB/GB/TB/PB,
// EB included, is rejected.
func ParseSize(s string) (ByteSize, error) {
	trimmed := strings.TrimSpace(s)
	matches := sizeRegexp.FindStringSubmatch(trimmed)
	if matches == nil {
		return 0, errors.Wrapf(ErrInvalidSize,
			"unreadable size '%s'; expected a number followed by one of byte, bytes, KB, MB, GB, TB, PB (case insensitive)", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidSize, "invalid number '%s' in size '%s'", matches[1], s)
	}
	return ByteSize(value * multipliers[strings.ToLower(matches[2])]), nil
}

// FormatSize renders a byte count with one decimal place, stepping
// through units at 1024 boundaries. Negative values keep their sign so
// that an exceeded budget shows up as e.g. "-1.0 KB".
func FormatSize(num float64) string {
	for _, unit := range displayUnits {
		if num < 1024.0 && num > -1024.0 {
			return fmt.Sprintf("%3.1f %s", num, unit)
		}
		num /= 1024.0
	}
	return fmt.Sprintf("%3.1f %s", num, "PB")
}

// Bytes returns the size as a float64 byte count.
func (b ByteSize) Bytes() float64 {
	return float64(b)
}

// String implements fmt.Stringer
func (b ByteSize) String() string {
	return FormatSize(float64(b))
}

// UnmarshalText allows a ByteSize to be read straight from config files and flags.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}
