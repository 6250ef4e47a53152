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

// Package soft parses the GEO family soft files (GSExxx_family.soft.subset)
// for the sample attributes that matter to the pipeline.
package soft

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/rsempipeline/sample"
)

// SRAURLPrefix is the location of the SRA archives a sample links to.
const SRAURLPrefix = "ftp://ftp-trace.ncbi.nlm.nih.gov/sra/sra-instant/reads/"

var (
	seriesNameRegex = regexp.MustCompile(`GSE\d+`)

	acceptedStrategies = []string{"RNA-Seq", "OTHER"}

	blacklistedInstruments = []string{
		"454 GS",
		"AB SOLiD",
		"AB 5500xl Genetic Analyzer",
		"AB 5500 Genetic Analyzer",
	}
)

// SeriesNameFromFile extracts e.g. GSE31555 from GSE31555_family.soft.subset.
func SeriesNameFromFile(softFile string) (string, error) {
	name := seriesNameRegex.FindString(filepath.Base(softFile))
	if name == "" {
		return "", errors.Errorf("cannot extract the series name from %s; does it look like GSE12345_family.soft.subset?", softFile)
	}
	return name, nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// update applies one attribute line to smp.  It returns false when the
// attribute disqualifies the sample.
func update(smp *sample.Sample, label, value string, organisms []string) bool {
	discard := func() bool {
		log.Debugf("discarding sample %s of %s for %s: %s", smp.Name, smp.SeriesName(), label, value)
		return false
	}
	switch {
	case strings.HasPrefix(label, "!Sample_organism_ch"):
		if !contains(organisms, value) {
			return discard()
		}
		smp.Organism = value
	case strings.HasPrefix(label, "!Sample_supplementary_file_"):
		if strings.HasPrefix(value, SRAURLPrefix) {
			smp.URL = value
		}
	case label == "!Sample_type":
		if value != "SRA" {
			return discard()
		}
	case label == "!Sample_library_strategy":
		// Some RNA-Seq samples are labelled OTHER.
		if !contains(acceptedStrategies, value) {
			return discard()
		}
	case label == "!Sample_instrument_model":
		for _, bad := range blacklistedInstruments {
			if strings.Contains(value, bad) {
				return discard()
			}
		}
	case label == "!Sample_library_source":
		if strings.ToLower(value) != "transcriptomic" {
			return discard()
		}
	}
	return true
}

// add files the finished sample block under its series and returns the
// next display index.
func add(smp *sample.Sample, series *sample.Series, index int) int {
	if smp == nil {
		return index
	}
	if smp.IsInfoComplete() {
		smp.Index = index
		series.AddPassedSample(smp)
		return index + 1
	}
	series.AddSample(smp)
	log.Warnf("info incomplete for current sample, name: %s; organism: %s; url: %s",
		smp.Name, smp.Organism, smp.URL)
	return index
}

// Parse reads one soft file.  Samples that fail a filter are dropped;
// samples that pass every filter but lack an organism or SRA url are kept
// in Samples only.
func Parse(softFile string, organisms []string) (*sample.Series, error) {
	log.Infof("Parsing file: %s ...", softFile)
	nameFromFile, err := SeriesNameFromFile(softFile)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(softFile)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve %s", softFile)
	}

	f, err := os.Open(softFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open soft file %s", softFile)
	}
	defer f.Close()

	var (
		series  *sample.Series
		current *sample.Sample
		index   = 1
		lineNum = 0
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineNum++
		label, value, found := strings.Cut(scanner.Text(), "=")
		if !found {
			continue
		}
		label, value = strings.TrimSpace(label), strings.TrimSpace(value)

		switch label {
		case "^SERIES":
			series = sample.NewSeries(value, abs)
			if series.Name != nameFromFile {
				return nil, errors.Errorf("series contained in the soft file doesn't match that in the filename: %s != %s",
					series.Name, nameFromFile)
			}
		case "^SAMPLE":
			if series == nil {
				return nil, errors.Errorf("%s:%d: ^SAMPLE before ^SERIES", softFile, lineNum)
			}
			index = add(current, series, index)
			current = sample.NewSample(value, series)
		}

		if current != nil && !update(current, label, value, organisms) {
			current = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read soft file %s", softFile)
	}
	if series == nil {
		return nil, errors.Errorf("no ^SERIES found in %s", softFile)
	}
	add(current, series, index)

	log.Infof("%s: %d/%d samples passed", series.Name, series.NumPassedSamples(), series.NumSamples())
	return series, nil
}
