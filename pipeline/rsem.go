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

package pipeline

import (
	"sort"
	"strings"

	"github.com/grafana/regexp"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/rsempipeline/sra_info"
)

var (
	fastqGz1Regex = regexp.MustCompile(`[SED]RR\d+_1\.fastq\.gz`)
	fastqGz2Regex = regexp.MustCompile(`[SED]RR\d+_2\.fastq\.gz`)
)

func zcat(files []string) string {
	return "<(/bin/zcat " + strings.Join(files, " ") + ")"
}

// GenFastqGzInput builds the rsem input argument from the fastq.gz files
// of one sample.  Both mates present gives a --paired-end argument; a
// single mate (some samples only have _2) is read as single-end.  It
// returns "" when no file matches.
func GenFastqGzInput(fastqGzs []string) string {
	var gz1, gz2 []string
	for _, f := range fastqGzs {
		switch {
		case fastqGz1Regex.MatchString(f):
			gz1 = append(gz1, f)
		case fastqGz2Regex.MatchString(f):
			gz2 = append(gz2, f)
		}
	}
	sort.Strings(gz1)
	sort.Strings(gz2)

	switch {
	case len(gz1) > 0 && len(gz2) > 0:
		return "--paired-end " + zcat(gz1) + " " + zcat(gz2)
	case len(gz1) > 0:
		return zcat(gz1)
	case len(gz2) > 0:
		return zcat(gz2)
	}
	return ""
}

// DecideNumJobs returns jRsem when positive, otherwise the number of SRA
// archives of the sample, defaulting to 1.
func DecideNumJobs(outdir string, jRsem int) int {
	if jRsem > 0 {
		return jRsem
	}
	info, err := sra_info.Read(outdir)
	if err != nil {
		log.Debugf("cannot decide number of jobs from sras info, using 1: %v", err)
		return 1
	}
	if len(info) == 0 {
		return 1
	}
	return len(info)
}
