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

// Package sample holds the series (GSE) and sample (GSM) entities that
// flow from metadata parsing into scheduling.
package sample

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// RsemOutputDir holds all sample outdirs under a top outdir.
const RsemOutputDir = "rsem_output"

// Series is one GSE.  Samples holds every sample encountered while
// parsing; PassedSamples only those with complete information, in the
// same relative order.
type Series struct {
	Name          string
	SoftFile      string
	Samples       []*Sample
	PassedSamples []*Sample
}

// Sample is one GSM.  Outdir is empty until GenOutdir succeeds.
type Sample struct {
	Name     string
	Index    int
	Organism string
	URL      string
	Outdir   string

	series *Series
}

func NewSeries(name, softFile string) *Series {
	return &Series{Name: name, SoftFile: softFile}
}

// NewSample creates a sample owned by series.  It is not added to either
// list; that happens once parsing of the sample block finishes.
func NewSample(name string, series *Series) *Sample {
	return &Sample{Name: name, series: series}
}

func (s *Series) AddSample(smp *Sample) {
	s.Samples = append(s.Samples, smp)
}

// AddPassedSample appends to both lists.
func (s *Series) AddPassedSample(smp *Sample) {
	s.AddSample(smp)
	s.PassedSamples = append(s.PassedSamples, smp)
}

func (s *Series) NumSamples() int {
	return len(s.Samples)
}

func (s *Series) NumPassedSamples() int {
	return len(s.PassedSamples)
}

func (s *Series) String() string {
	return fmt.Sprintf("%s (passed samples: %d/%d)", s.Name, s.NumPassedSamples(), s.NumSamples())
}

// Series returns the owning series.
func (smp *Sample) Series() *Series {
	return smp.series
}

// SeriesName is the owning series name, or "" for an orphan sample.
func (smp *Sample) SeriesName() string {
	if smp.series == nil {
		return ""
	}
	return smp.series.Name
}

// IsInfoComplete reports whether name, organism and url are all known.
func (smp *Sample) IsInfoComplete() bool {
	return smp.Name != "" && smp.Organism != "" && smp.URL != ""
}

// OrganismDir is the directory form of the organism, e.g. homo_sapiens.
func OrganismDir(organism string) string {
	return strings.ReplaceAll(strings.ToLower(organism), " ", "_")
}

// GenOutdir computes <top>/<GSE>/<organism>/<GSM>.  The first successful
// call fixes Outdir; later calls return it unchanged.
func (smp *Sample) GenOutdir(topOutdir string) (string, error) {
	if smp.Outdir != "" {
		return smp.Outdir, nil
	}
	if !smp.IsInfoComplete() {
		return "", errors.Errorf("%s is not information complete; name (%q), organism (%q) and url (%q) must all be set",
			smp, smp.Name, smp.Organism, smp.URL)
	}
	smp.Outdir = filepath.Join(topOutdir, smp.SeriesName(), OrganismDir(smp.Organism), smp.Name)
	return smp.Outdir, nil
}

func (smp *Sample) String() string {
	passed, total := 0, 0
	if smp.series != nil {
		passed, total = smp.series.NumPassedSamples(), smp.series.NumSamples()
	}
	return fmt.Sprintf("<%s (%d/%d/%d) of %s>", smp.Name, smp.Index, passed, total, smp.SeriesName())
}

// InitOutdirs sets and creates the outdir of every sample below
// <topOutdir>/rsem_output.
func InitOutdirs(samples []*Sample, topOutdir string) error {
	base := filepath.Join(topOutdir, RsemOutputDir)
	for _, smp := range samples {
		outdir, err := smp.GenOutdir(base)
		if err != nil {
			return err
		}
		if _, err := os.Stat(outdir); os.IsNotExist(err) {
			log.Infof("creating directory: %s", outdir)
		}
		if err := os.MkdirAll(outdir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create %s", outdir)
		}
	}
	return nil
}
