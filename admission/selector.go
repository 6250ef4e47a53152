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

package admission

import (
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/rsempipeline/byte_size"
	"github.com/pelicanplatform/rsempipeline/completion"
	"github.com/pelicanplatform/rsempipeline/sample"
	"github.com/pelicanplatform/rsempipeline/sra_info"
)

type Verdict string

const (
	Admitted             Verdict = "admitted"
	AdmittedIgnoreBudget Verdict = "admitted-ignore-budget"
	Rejected             Verdict = "rejected"
	SkippedComplete      Verdict = "skipped-complete"
	SkippedLedger        Verdict = "skipped-ledger"
	SkippedMetadata      Verdict = "skipped-metadata"
	SkippedTransferred   Verdict = "skipped-transferred"
	SkippedUnprocessed   Verdict = "skipped-unprocessed"
	SkippedBelowFloor    Verdict = "skipped-below-floor"
)

var Verdicts = []Verdict{
	Admitted, AdmittedIgnoreBudget, Rejected, SkippedComplete, SkippedLedger,
	SkippedMetadata, SkippedTransferred, SkippedUnprocessed, SkippedBelowFloor,
}

// Decision is the audit record of one candidate.
type Decision struct {
	Sample       *sample.Sample
	Footprint    float64
	BudgetBefore float64
	Verdict      Verdict
}

type Result struct {
	Admitted  []*sample.Sample
	Remaining float64
	Decisions []Decision
}

func (r *Result) record(smp *sample.Sample, footprint, before float64, verdict Verdict) {
	r.Decisions = append(r.Decisions, Decision{Sample: smp, Footprint: footprint, BudgetBefore: before, Verdict: verdict})
	if verdict == Admitted || verdict == AdmittedIgnoreBudget {
		r.Admitted = append(r.Admitted, smp)
	}
}

// Count returns how many decisions carry verdict.
func (r *Result) Count(verdict Verdict) int {
	n := 0
	for _, d := range r.Decisions {
		if d.Verdict == verdict {
			n++
		}
	}
	return n
}

type CompletionChecker interface {
	IsComplete(outdir string) (bool, error)
}

type LedgerReader interface {
	Load() ([]string, error)
}

type Options struct {
	SRA2FastqRatio   float64
	Fastq2UsageRatio float64

	// EmergencyFloor stops a transfer scan once the remaining budget is
	// below it.  Zero disables the floor.
	EmergencyFloor float64
}

// Selector runs the greedy, order-preserving admission scan.  It keeps
// no state between passes.
type Selector struct {
	Oracle  CompletionChecker
	Ledger  LedgerReader
	Options Options

	// ReadInfo defaults to sra_info.Read.
	ReadInfo func(outdir string) (sra_info.Info, error)
}

func (s *Selector) readInfo(outdir string) (sra_info.Info, error) {
	if s.ReadInfo != nil {
		return s.ReadInfo(outdir)
	}
	return sra_info.Read(outdir)
}

// complete asks the oracle and folds metadata problems into a verdict.
// ok is false when the sample must be skipped for lack of metadata.
func (s *Selector) complete(smp *sample.Sample) (done, ok bool) {
	if smp.Outdir == "" {
		log.Warnf("%s has no outdir; skipped", smp)
		return false, false
	}
	done, err := s.Oracle.IsComplete(smp.Outdir)
	if err != nil {
		if errors.Is(err, completion.ErrMetadataMissing) {
			log.Debugf("%s: %v; not started yet, skipped", smp, err)
		} else {
			log.Errorf("%s: cannot check completion: %v; skipped", smp, err)
		}
		return false, false
	}
	return done, true
}

func (s *Selector) footprint(smp *sample.Sample, rsem bool) (float64, error) {
	info, err := s.readInfo(smp.Outdir)
	if err != nil {
		return 0, err
	}
	if rsem {
		return EstimateRSEMUsage(info, s.Options.SRA2FastqRatio, s.Options.Fastq2UsageRatio), nil
	}
	return EstimateProcessingUsage(info, s.Options.SRA2FastqRatio), nil
}

// admit runs steps 3 to 5 of the scan for one candidate and returns the
// remaining budget.
func (s *Selector) admit(res *Result, smp *sample.Sample, footprint, remaining float64, where string) float64 {
	if footprint > remaining {
		log.Debugf("%s (%s) doesn't fit current %s free_to_use (%s)", smp,
			byte_size.FormatSize(footprint), where, byte_size.FormatSize(remaining))
		res.record(smp, footprint, remaining, Rejected)
		return remaining
	}
	log.Infof("%s (%s) fits %s free_to_use (%s)", smp,
		byte_size.FormatSize(footprint), where, byte_size.FormatSize(remaining))
	res.record(smp, footprint, remaining, Admitted)
	return remaining - footprint
}

// SelectForProcessing picks the samples to download and convert locally.
// Completed samples are skipped first, even when ignoreBudget is set.
func (s *Selector) SelectForProcessing(candidates []*sample.Sample, budget float64, ignoreBudget bool) Result {
	res := Result{Remaining: budget}
	for _, smp := range candidates {
		done, ok := s.complete(smp)
		if !ok {
			res.record(smp, 0, res.Remaining, SkippedMetadata)
			continue
		}
		if done {
			log.Debugf("%s has already been processed successfully, pass", smp)
			res.record(smp, 0, res.Remaining, SkippedComplete)
			continue
		}
		if ignoreBudget {
			log.Infof("%s admitted; disk usage rule ignored", smp)
			res.record(smp, 0, res.Remaining, AdmittedIgnoreBudget)
			continue
		}
		footprint, err := s.footprint(smp, false)
		if err != nil {
			log.Errorf("%s: cannot estimate usage: %v; skipped", smp, err)
			res.record(smp, 0, res.Remaining, SkippedMetadata)
			continue
		}
		res.Remaining = s.admit(&res, smp, footprint, res.Remaining, "local")
	}
	log.Infof("Local free_to_use left after selection: %s", byte_size.FormatSize(res.Remaining))
	return res
}

// TransferredNames returns the sample names recorded in the ledger; the
// ledger holds relative outdirs whose last element is the sample name.
func TransferredNames(ids []string) map[string]struct{} {
	names := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		names[path.Base(filepath.ToSlash(id))] = struct{}{}
	}
	return names
}

// SelectForTransfer picks locally processed samples to ship to the remote
// cluster.  Samples in the ledger or flagged transfer.COMPLETE are
// skipped before any estimate is made.
func (s *Selector) SelectForTransfer(candidates []*sample.Sample, budget float64) (Result, error) {
	res := Result{Remaining: budget}

	var transferred map[string]struct{}
	if s.Ledger != nil {
		ids, err := s.Ledger.Load()
		if err != nil {
			return res, err
		}
		transferred = TransferredNames(ids)
	}

	floor := s.Options.EmergencyFloor
	for idx, smp := range candidates {
		if floor > 0 && res.Remaining < floor {
			log.Warnf("Remote free_to_use (%s) is below the emergency floor (%s); %d candidate(s) not considered",
				byte_size.FormatSize(res.Remaining), byte_size.FormatSize(floor), len(candidates)-idx)
			for _, rest := range candidates[idx:] {
				res.record(rest, 0, res.Remaining, SkippedBelowFloor)
			}
			break
		}
		if _, ok := transferred[smp.Name]; ok {
			log.Debugf("%s: recorded in the transfer ledger", smp)
			res.record(smp, 0, res.Remaining, SkippedLedger)
			continue
		}
		if smp.Outdir != "" {
			if _, err := os.Stat(filepath.Join(smp.Outdir, completion.TransferFlag)); err == nil {
				log.Debugf("%s: already transferred", smp)
				res.record(smp, 0, res.Remaining, SkippedTransferred)
				continue
			}
		}
		done, ok := s.complete(smp)
		if !ok {
			res.record(smp, 0, res.Remaining, SkippedMetadata)
			continue
		}
		if !done {
			res.record(smp, 0, res.Remaining, SkippedUnprocessed)
			continue
		}
		footprint, err := s.footprint(smp, true)
		if err != nil {
			log.Errorf("%s: cannot estimate usage: %v; skipped", smp, err)
			res.record(smp, 0, res.Remaining, SkippedMetadata)
			continue
		}
		res.Remaining = s.admit(&res, smp, footprint, res.Remaining, "remote")
	}
	log.Infof("Remote free_to_use left after selection: %s", byte_size.FormatSize(res.Remaining))
	return res, nil
}
