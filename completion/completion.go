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

// Package completion decides whether a sample's processing finished and
// keeps the ledger of samples already transferred to the remote cluster.
package completion

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/rsempipeline/sra_info"
)

const (
	DownloadFlagSuffix  = ".download.COMPLETE"
	Sra2FastqFlagSuffix = ".sra2fastq.COMPLETE"

	// QsubScript marks a sample prepared for remote rsem.
	QsubScript = "0_submit.sh"
	// RsemFlag marks a sample whose rsem ran locally, or remotely.
	RsemFlag = "rsem.COMPLETE"
	// TransferFlag marks a sample directory already shipped by hand.
	TransferFlag = "transfer.COMPLETE"
)

var ErrMetadataMissing = errors.New("sras_info.yaml is missing")

// Stage is one link of the completion chain.
type Stage struct {
	Name     string
	Complete bool
}

// Oracle answers "is this sample done" from the flag files in its outdir.
// FinalStage is the file that marks the last stage; it defaults to
// QsubScript.
type Oracle struct {
	FinalStage string
}

func (o Oracle) finalStage() string {
	if o.FinalStage == "" {
		return QsubScript
	}
	return o.FinalStage
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// allFlagged reports whether <outdir>/<basename><suffix> exists for
// every basename.
func allFlagged(outdir string, basenames []string, suffix string) bool {
	for _, name := range basenames {
		if !exists(filepath.Join(outdir, name+suffix)) {
			return false
		}
	}
	return true
}

// Stages evaluates every stage of the chain without short-circuiting.
func (o Oracle) Stages(outdir string) ([]Stage, error) {
	info, err := sra_info.Read(outdir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrMetadataMissing, "%s", outdir)
		}
		return nil, err
	}
	names := info.Basenames()
	final := o.finalStage()
	return []Stage{
		{Name: "download", Complete: allFlagged(outdir, names, DownloadFlagSuffix)},
		{Name: "sra2fastq", Complete: allFlagged(outdir, names, Sra2FastqFlagSuffix)},
		{Name: stageName(final), Complete: exists(filepath.Join(outdir, final))},
	}, nil
}

func stageName(final string) string {
	switch final {
	case QsubScript:
		return "gen_qsub_script"
	case RsemFlag:
		return "rsem"
	}
	return final
}

// IsComplete walks the chain in order and stops at the first unfinished
// stage.  A missing sras_info.yaml yields ErrMetadataMissing.
func (o Oracle) IsComplete(outdir string) (bool, error) {
	stages, err := o.Stages(outdir)
	if err != nil {
		return false, err
	}
	for _, stage := range stages {
		if !stage.Complete {
			log.Debugf("%s not completed yet for %s", stage.Name, outdir)
			return false, nil
		}
	}
	return true, nil
}
