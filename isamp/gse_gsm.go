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

package isamp

import (
	"encoding/csv"
	"io"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/grafana/regexp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	gsePrefixRegex = regexp.MustCompile(`^GSE\d+`)
	gsmPrefixRegex = regexp.MustCompile(`^GSM\d+`)
)

// Pair is one GSE/GSM combination from a GSE_GSM.csv file.
type Pair struct {
	GSE string
	GSM string
}

// ReadGSEGSMs reads the collaborator's GSE_GSM.csv, which has one GSE per
// row and its GSMs joined by ';', e.g. GSE1,"GSM1;GSM2;".  Every invalid
// row is logged; if there is any, an error is returned and no pairs.
func ReadGSEGSMs(r io.Reader) ([]Pair, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var (
		pairs   []Pair
		invalid int
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if len(row) != 2 {
			log.Warnf("row %d is not of len 2", line)
			invalid++
			continue
		}
		gse := row[0]
		if !gsePrefixRegex.MatchString(gse) {
			log.Warnf("row %d: invalid GSE name: %s", line, gse)
			invalid++
			continue
		}
		var gsms []string
		valid := true
		for _, gsm := range strings.Split(strings.TrimRight(strings.TrimSpace(row[1]), ";"), ";") {
			gsm = strings.TrimSpace(gsm)
			if !gsmPrefixRegex.MatchString(gsm) {
				valid = false
				break
			}
			gsms = append(gsms, gsm)
		}
		if !valid {
			log.Warnf("row %d: not all GSMs are of valid names, do you have invalid characters at the end of the line by mistake?", line)
			invalid++
			continue
		}
		for _, gsm := range gsms {
			pairs = append(pairs, Pair{GSE: gse, GSM: gsm})
		}
	}
	if invalid > 0 {
		return nil, errors.Errorf("%d invalid row(s); please correct the format of invalid entries and rerun", invalid)
	}
	return pairs, nil
}

// FindDuplicates returns the pairs whose GSM was already listed for the
// same GSE in the current run of rows.
func FindDuplicates(pairs []Pair) []Pair {
	var (
		dups    []Pair
		current string
		seen    map[string]struct{}
	)
	for _, p := range pairs {
		if seen == nil || p.GSE != current {
			current = p.GSE
			seen = make(map[string]struct{})
		}
		if _, ok := seen[p.GSM]; ok {
			log.Warnf("duplicated GSM: %s from %s", p.GSM, p.GSE)
			dups = append(dups, p)
			continue
		}
		seen[p.GSM] = struct{}{}
	}
	return dups
}

// Row is one line of GSE_species_GSM.csv.
type Row struct {
	GSE     string `csv:"gse"`
	Species string `csv:"species"`
	GSM     string `csv:"gsm"`
}

// WriteCSV writes rows sorted by GSE, species then GSM, without a
// header, in the format ReadCSV accepts.
func WriteCSV(w io.Writer, rows []Row) error {
	sorted := append([]Row(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.GSE != b.GSE {
			return a.GSE < b.GSE
		}
		if a.Species != b.Species {
			return a.Species < b.Species
		}
		return a.GSM < b.GSM
	})
	return errors.Wrap(gocsv.MarshalWithoutHeaders(&sorted, w), "failed to write csv")
}
