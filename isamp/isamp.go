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

// Package isamp reads the list of interested samples (GSE_species_GSM.csv or
// an inline string) and intersects it with the samples parsed from soft
// files.
package isamp

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/rsempipeline/sample"
	"github.com/pelicanplatform/rsempipeline/soft"
)

var (
	ErrSampleCountMismatch = errors.New("number of samples after intersection does not match the interested samples")

	gseRegex      = regexp.MustCompile(`^GSE\d+$`)
	gsmRegex      = regexp.MustCompile(`^GSM\d+$`)
	softFileRegex = regexp.MustCompile(`(GSE\d+)_family\.soft\.subset`)
)

// Isamp maps each interested series to its samples, keeping the order in
// which series were first seen.
type Isamp struct {
	order []string
	gsms  map[string][]string
}

func New() *Isamp {
	return &Isamp{gsms: make(map[string][]string)}
}

// Add appends gsms to series gse.
func (i *Isamp) Add(gse string, gsms ...string) {
	if _, ok := i.gsms[gse]; !ok {
		i.order = append(i.order, gse)
		i.gsms[gse] = nil
	}
	i.gsms[gse] = append(i.gsms[gse], gsms...)
}

func (i *Isamp) Series() []string {
	return append([]string(nil), i.order...)
}

func (i *Isamp) Samples(gse string) ([]string, bool) {
	gsms, ok := i.gsms[gse]
	return gsms, ok
}

// Count is the total number of interested samples.
func (i *Isamp) Count() int {
	n := 0
	for _, gsms := range i.gsms {
		n += len(gsms)
	}
	return n
}

// Load reads interested samples from a .csv file when fileOrString names
// an existing file, and otherwise parses it as "GSE1 GSM1 GSM2;GSE2 GSM3".
func Load(fileOrString string) (*Isamp, error) {
	if _, err := os.Stat(fileOrString); err == nil {
		if filepath.Ext(fileOrString) != ".csv" {
			return nil, errors.Errorf("unrecognized file type of %s as input file for isamples", fileOrString)
		}
		f, err := os.Open(fileOrString)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", fileOrString)
		}
		defer f.Close()
		res, err := ReadCSV(f)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", fileOrString)
		}
		log.Infof("%d samples found in %s", res.Count(), fileOrString)
		return res, nil
	}
	res, err := ParseString(fileOrString)
	if err != nil {
		return nil, err
	}
	log.Infof("%d samples found from -i/--isamp input", res.Count())
	return res, nil
}

// ReadCSV reads GSE,species,GSM rows.  Lines starting with '#' are
// comments; malformed rows are logged and ignored.
func ReadCSV(r io.Reader) (*Isamp, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	res := New()
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if len(row) != 3 || !gseRegex.MatchString(row[0]) || !gsmRegex.MatchString(row[2]) {
			log.Errorf("Ignored invalid row (%d): %v", line, row)
			continue
		}
		res.Add(row[0], row[2])
	}
	return res, nil
}

// ParseString parses the inline form; groups are separated by ';' and
// the first token of a group is the series.
func ParseString(s string) (*Isamp, error) {
	res := New()
	for _, group := range strings.Split(s, ";") {
		tokens := strings.Fields(group)
		if len(tokens) == 0 {
			continue
		}
		if !gseRegex.MatchString(tokens[0]) {
			return nil, errors.Errorf("invalid isamp group %q: %s is not a GSE", strings.TrimSpace(group), tokens[0])
		}
		res.Add(tokens[0], tokens[1:]...)
	}
	if res.Count() == 0 {
		return nil, errors.Errorf("no interested samples found in %q", s)
	}
	return res, nil
}

// Intersect keeps the passed samples of series that are also interested,
// in soft file order.
func (i *Isamp) Intersect(series *sample.Series) []*sample.Sample {
	wanted, _ := i.Samples(series.Name)
	set := make(map[string]struct{}, len(wanted))
	for _, gsm := range wanted {
		set[gsm] = struct{}{}
	}
	var res []*sample.Sample
	for _, smp := range series.PassedSamples {
		if _, ok := set[smp.Name]; ok {
			res = append(res, smp)
		}
	}
	if len(wanted) != len(res) {
		log.Errorf("Discrepancy for %s: %d GSMs in soft, %d GSMs in isamp, and only %d left after intersection.",
			series.Name, series.NumPassedSamples(), len(wanted), len(res))
	}
	return res
}

// GenSamples parses every soft file and returns the interested samples.
// The result must account for every interested sample, otherwise
// ErrSampleCountMismatch is returned.
func GenSamples(softFiles []string, isamp *Isamp, organisms []string) ([]*sample.Sample, error) {
	var res []*sample.Sample
	for _, softFile := range softFiles {
		if !softFileRegex.MatchString(softFile) {
			log.Errorf("invalid soft file because of no GSE information found in its filename: %s", softFile)
			continue
		}
		series, err := soft.Parse(softFile, organisms)
		if err != nil {
			return nil, err
		}
		if _, ok := isamp.Samples(series.Name); !ok {
			log.Warnf("%s from %s does not appear in isamp", series.Name, softFile)
			continue
		}
		res = append(res, isamp.Intersect(series)...)
	}

	if want := isamp.Count(); want != len(res) {
		return nil, errors.Wrapf(ErrSampleCountMismatch,
			"interested (%d) vs to be processed (%d); please check ERROR in log for details", want, len(res))
	}
	log.Infof("No discrepancies detected after intersection, all %d samples will be processed", len(res))
	return res, nil
}
