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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/rsempipeline/byte_size"
	"github.com/pelicanplatform/rsempipeline/completion"
	"github.com/pelicanplatform/rsempipeline/disk_usage"
	"github.com/pelicanplatform/rsempipeline/param"
	"github.com/pelicanplatform/rsempipeline/sample"
	"github.com/pelicanplatform/rsempipeline/sra_info"
)

// A raw size of 280000 bytes becomes a 700000 byte footprint under
// SRA2Fastq = 1.5 and Fastq2Usage = 1.0.
const (
	rawSize   = 280000
	footprint = 700000.0
)

var testOptions = Options{SRA2FastqRatio: 1.5, Fastq2UsageRatio: 1.0}

func newCandidate(t *testing.T, top, gse, gsm string, size int64) *sample.Sample {
	smp := sample.NewSample(gsm, sample.NewSeries(gse, ""))
	smp.Organism = "Homo sapiens"
	smp.URL = "ftp://ftp-trace.ncbi.nlm.nih.gov/sra/sra-instant/reads/ByExp/sra/SRX/SRX000/SRX000001"
	_, err := smp.GenOutdir(filepath.Join(top, "rsem_output"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(smp.Outdir, 0755))
	if size >= 0 {
		require.NoError(t, sra_info.Write(smp.Outdir, sra_info.Info{
			sra_info.NewEntry("SRX000001/SRR"+gsm[3:]+"/SRR"+gsm[3:]+".sra", size),
		}))
	}
	return smp
}

// markProcessed touches every flag up to the qsub script.
func markProcessed(t *testing.T, smp *sample.Sample) {
	info, err := sra_info.Read(smp.Outdir)
	require.NoError(t, err)
	for _, name := range info.Basenames() {
		for _, suffix := range []string{completion.DownloadFlagSuffix, completion.Sra2FastqFlagSuffix} {
			require.NoError(t, os.WriteFile(filepath.Join(smp.Outdir, name+suffix), nil, 0644))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(smp.Outdir, completion.QsubScript), []byte("#!/bin/bash\n"), 0755))
}

func verdicts(res Result) []Verdict {
	out := make([]Verdict, 0, len(res.Decisions))
	for _, d := range res.Decisions {
		out = append(out, d.Verdict)
	}
	return out
}

func TestEstimate(t *testing.T) {
	for _, raw := range []float64{0, 1, 1024, 3.5e9} {
		for _, ratio := range []float64{0.5, 1, 1.5, 9} {
			assert.Equal(t, raw*ratio, Estimate(raw, ratio))
		}
	}
	assert.Equal(t, 0.0, Estimate(0, 4))

	info := sra_info.Info{sra_info.NewEntry("a.sra", 100), sra_info.NewEntry("b.sra", 300)}
	assert.Equal(t, 1000.0, EstimateProcessingUsage(info, 1.5))
	assert.Equal(t, 2000.0, EstimateRSEMUsage(info, 1.5, 2))
}

func TestCalcBudget(t *testing.T) {
	tests := []struct {
		name                                  string
		maxUsage, current, freeSpace, minFree float64
		expected                              float64
	}{
		{"ceiling-bound", 10, 2, 20, 1, 7},
		{"free-space-bound", 10, 2, 6, 1, 5},
		{"free-below-margin", 10, 2, 0.5, 1, -0.5},
		{"usage-above-ceiling", 10, 12, 20, 1, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalcBudget(tt.maxUsage, tt.current, tt.freeSpace, tt.minFree))
		})
	}
	assert.Equal(t, 0.0, FloorBudget(-2))
	assert.Equal(t, 7.0, FloorBudget(7))
}

func TestSelectForProcessingGreedy(t *testing.T) {
	top := t.TempDir()
	a := newCandidate(t, top, "GSE1", "GSM1", rawSize)
	b := newCandidate(t, top, "GSE1", "GSM2", rawSize)

	s := &Selector{Oracle: completion.Oracle{}, Options: testOptions}
	res := s.SelectForProcessing([]*sample.Sample{a, b}, 1e6, false)

	assert.Equal(t, []*sample.Sample{a}, res.Admitted)
	assert.Equal(t, []Verdict{Admitted, Rejected}, verdicts(res))
	assert.Equal(t, 1e6-footprint, res.Remaining)
	assert.Equal(t, footprint, res.Decisions[1].Footprint)
	assert.Equal(t, 1e6-footprint, res.Decisions[1].BudgetBefore)
}

func TestSelectForProcessingContinuesAfterRejection(t *testing.T) {
	top := t.TempDir()
	big := newCandidate(t, top, "GSE1", "GSM1", 4*rawSize)
	small := newCandidate(t, top, "GSE1", "GSM2", rawSize)

	s := &Selector{Oracle: completion.Oracle{}, Options: testOptions}
	res := s.SelectForProcessing([]*sample.Sample{big, small}, 1e6, false)
	assert.Equal(t, []*sample.Sample{small}, res.Admitted)
	assert.Equal(t, []Verdict{Rejected, Admitted}, verdicts(res))
}

func TestSelectForProcessingSkips(t *testing.T) {
	top := t.TempDir()
	done := newCandidate(t, top, "GSE1", "GSM1", rawSize)
	markProcessed(t, done)
	noMeta := newCandidate(t, top, "GSE1", "GSM2", -1)
	fresh := newCandidate(t, top, "GSE1", "GSM3", rawSize)
	orphan := sample.NewSample("GSM4", sample.NewSeries("GSE1", ""))

	s := &Selector{Oracle: completion.Oracle{}, Options: testOptions}
	res := s.SelectForProcessing([]*sample.Sample{done, noMeta, fresh, orphan}, 0, false)
	assert.Empty(t, res.Admitted)
	assert.Equal(t, []Verdict{SkippedComplete, SkippedMetadata, Rejected, SkippedMetadata}, verdicts(res))

	res = s.SelectForProcessing([]*sample.Sample{done, noMeta, fresh}, 0, true)
	assert.Equal(t, []*sample.Sample{fresh}, res.Admitted)
	assert.Equal(t, []Verdict{SkippedComplete, SkippedMetadata, AdmittedIgnoreBudget}, verdicts(res))
	assert.Equal(t, 0.0, res.Remaining)
}

func TestSelectForProcessingIdempotent(t *testing.T) {
	top := t.TempDir()
	a := newCandidate(t, top, "GSE1", "GSM1", rawSize)
	s := &Selector{Oracle: completion.Oracle{}, Options: testOptions}

	res := s.SelectForProcessing([]*sample.Sample{a}, 1e6, false)
	require.Equal(t, []*sample.Sample{a}, res.Admitted)
	markProcessed(t, a)

	res = s.SelectForProcessing([]*sample.Sample{a}, 1e6, false)
	assert.Empty(t, res.Admitted)
	assert.Equal(t, 1, res.Count(SkippedComplete))
}

func TestSelectionIsLogged(t *testing.T) {
	hook := test.NewLocal(logrus.StandardLogger())
	defer hook.Reset()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(logrus.InfoLevel)

	top := t.TempDir()
	a := newCandidate(t, top, "GSE1", "GSM1", rawSize)
	b := newCandidate(t, top, "GSE1", "GSM2", rawSize)
	s := &Selector{Oracle: completion.Oracle{}, Options: testOptions}
	s.SelectForProcessing([]*sample.Sample{a, b}, 1e6, false)

	var admitted, rejected bool
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, "GSM1") && strings.Contains(entry.Message, "fits local free_to_use") {
			admitted = true
			assert.Contains(t, entry.Message, byte_size.FormatSize(footprint))
			assert.Contains(t, entry.Message, byte_size.FormatSize(1e6))
			assert.Equal(t, logrus.InfoLevel, entry.Level)
		}
		if strings.Contains(entry.Message, "GSM2") && strings.Contains(entry.Message, "doesn't fit") {
			rejected = true
			assert.Contains(t, entry.Message, byte_size.FormatSize(1e6-footprint))
		}
	}
	assert.True(t, admitted, "admission not logged")
	assert.True(t, rejected, "rejection not logged")
}

func TestSelectForTransferLedgerScenario(t *testing.T) {
	top := t.TempDir()
	recorded := newCandidate(t, top, "GSE1", "GSM1", rawSize)
	unrecorded := newCandidate(t, top, "GSE1", "GSM2", rawSize)
	markProcessed(t, recorded)
	markProcessed(t, unrecorded)

	ledger := completion.NewLedger(top)
	rel, err := filepath.Rel(top, recorded.Outdir)
	require.NoError(t, err)
	require.NoError(t, ledger.Append([]string{rel}, time.Now()))

	s := &Selector{Oracle: completion.Oracle{}, Ledger: ledger, Options: testOptions}
	candidates := []*sample.Sample{recorded, unrecorded}

	res, err := s.SelectForTransfer(candidates, 1e6)
	require.NoError(t, err)
	assert.Equal(t, []*sample.Sample{unrecorded}, res.Admitted)
	assert.Equal(t, []Verdict{SkippedLedger, Admitted}, verdicts(res))
	assert.Equal(t, 1e6-footprint, res.Remaining)

	rel, err = filepath.Rel(top, unrecorded.Outdir)
	require.NoError(t, err)
	require.NoError(t, ledger.Append([]string{rel}, time.Now()))

	res, err = s.SelectForTransfer(candidates, 1e6)
	require.NoError(t, err)
	assert.Empty(t, res.Admitted)
	assert.Equal(t, 2, res.Count(SkippedLedger))
}

func TestSelectForTransferFilters(t *testing.T) {
	top := t.TempDir()
	flagged := newCandidate(t, top, "GSE1", "GSM1", rawSize)
	markProcessed(t, flagged)
	require.NoError(t, os.WriteFile(filepath.Join(flagged.Outdir, completion.TransferFlag), nil, 0644))
	unprocessed := newCandidate(t, top, "GSE1", "GSM2", rawSize)
	noMeta := newCandidate(t, top, "GSE1", "GSM3", -1)
	big := newCandidate(t, top, "GSE1", "GSM4", 2*rawSize)
	markProcessed(t, big)
	fits := newCandidate(t, top, "GSE1", "GSM5", rawSize)
	markProcessed(t, fits)

	s := &Selector{Oracle: completion.Oracle{}, Options: testOptions}
	res, err := s.SelectForTransfer([]*sample.Sample{flagged, unprocessed, noMeta, big, fits}, 1e6)
	require.NoError(t, err)
	assert.Equal(t, []*sample.Sample{fits}, res.Admitted)
	assert.Equal(t, []Verdict{SkippedTransferred, SkippedUnprocessed, SkippedMetadata, Rejected, Admitted}, verdicts(res))
}

func TestSelectForTransferEmergencyFloor(t *testing.T) {
	top := t.TempDir()
	var candidates []*sample.Sample
	for _, name := range []string{"GSM1", "GSM2", "GSM3"} {
		smp := newCandidate(t, top, "GSE1", name, rawSize)
		markProcessed(t, smp)
		candidates = append(candidates, smp)
	}

	opts := testOptions
	opts.EmergencyFloor = 650000
	s := &Selector{Oracle: completion.Oracle{}, Options: opts}
	res, err := s.SelectForTransfer(candidates, 2e6)
	require.NoError(t, err)
	assert.Equal(t, candidates[:2], res.Admitted)
	assert.Equal(t, []Verdict{Admitted, Admitted, SkippedBelowFloor}, verdicts(res))
}

type brokenLedger struct{}

func (brokenLedger) Load() ([]string, error) { return nil, errors.New("permission denied") }

func TestSelectForTransferLedgerError(t *testing.T) {
	s := &Selector{Oracle: completion.Oracle{}, Ledger: brokenLedger{}, Options: testOptions}
	_, err := s.SelectForTransfer(nil, 1e6)
	assert.Error(t, err)
}

func TestTransferredNames(t *testing.T) {
	names := TransferredNames([]string{"rsem_output/GSE1/homo_sapiens/GSM1", "GSM2"})
	assert.Contains(t, names, "GSM1")
	assert.Contains(t, names, "GSM2")
	assert.NotContains(t, names, "GSE1")
}

type fakeProbe struct {
	free, used uint64
	paths      []string
	err        error
}

func (f *fakeProbe) FreeSpace(context.Context) (uint64, error) { return f.free, f.err }
func (f *fakeProbe) UsedSpace(context.Context) (uint64, error) { return f.used, nil }
func (f *fakeProbe) ListTree(context.Context) ([]string, error) {
	return f.paths, nil
}

func testConfig(t *testing.T, top string) *param.Config {
	cfg := &param.Config{LocalTopOutdir: top, RemoteTopOutdir: "/remote/top"}
	cfg.Local.MaxUsage = byte_size.ByteSize(10e6)
	cfg.Local.MinFree = byte_size.ByteSize(1e6)
	cfg.Remote.Host = "cluster"
	cfg.Remote.MaxUsage = byte_size.ByteSize(10e6)
	cfg.Remote.MinFree = byte_size.ByteSize(1e6)
	cfg.Ratio.SRA2Fastq = 1.5
	cfg.Ratio.Fastq2Usage = 1.0
	return cfg
}

func TestPlanLocal(t *testing.T) {
	top := t.TempDir()
	a := newCandidate(t, top, "GSE1", "GSM1", rawSize)
	b := newCandidate(t, top, "GSE1", "GSM2", rawSize)

	planner := NewPlanner(testConfig(t, top), completion.Oracle{}, nil)
	// min(10e6 - 8.5e6, 2.5e6 - 1e6) = 1.5e6 admits both 7e5 samples.
	planner.Local = &fakeProbe{free: 2500000, used: 8500000}

	plan, err := planner.PlanLocal(context.Background(), []*sample.Sample{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1.5e6, plan.RawBudget)
	assert.Equal(t, []*sample.Sample{a, b}, plan.Admitted)
	assert.Equal(t, 1.5e6-2*footprint, plan.Remaining)

	planner.Local = &fakeProbe{free: 500000, used: 0}
	plan, err = planner.PlanLocal(context.Background(), []*sample.Sample{a, b})
	require.NoError(t, err)
	assert.Equal(t, -500000.0, plan.RawBudget)
	assert.Equal(t, 0.0, plan.Budget)
	assert.Empty(t, plan.Admitted)

	planner.IgnoreBudget = true
	plan, err = planner.PlanLocal(context.Background(), []*sample.Sample{a, b})
	require.NoError(t, err)
	assert.Len(t, plan.Admitted, 2)
}

func TestPlanRemote(t *testing.T) {
	top := t.TempDir()
	inFlight := newCandidate(t, top, "GSE1", "GSM1", rawSize)
	markProcessed(t, inFlight)
	next := newCandidate(t, top, "GSE1", "GSM2", rawSize)
	markProcessed(t, next)
	last := newCandidate(t, top, "GSE1", "GSM3", 2*rawSize)
	markProcessed(t, last)

	ledger := completion.NewLedger(top)
	require.NoError(t, ledger.Append([]string{"rsem_output/GSE1/homo_sapiens/GSM1"}, time.Now()))

	planner := NewPlanner(testConfig(t, top), completion.Oracle{}, ledger)
	planner.Remote = &fakeProbe{
		free: 3000000,
		used: 123,
		paths: []string{
			"/remote/top",
			"/remote/top/rsem_output/GSE1/homo_sapiens/GSM1",
			"/remote/top/rsem_output/GSE1/homo_sapiens/GSM1/SRR1_1.fastq.gz",
			"/remote/top/rsem_output/GSE9/homo_sapiens/GSM9",
			"/remote/top/rsem_output/GSE9/homo_sapiens/GSM9/x",
		},
	}

	plan, err := planner.PlanRemote(context.Background(), []*sample.Sample{inFlight, next, last})
	require.NoError(t, err)
	// GSM1 is still running remotely; GSM9 has no local metadata.
	assert.Equal(t, footprint, plan.CurrentUsage)
	// max usage is capped by the free space.
	assert.Equal(t, 3e6, plan.MaxUsage)
	assert.Equal(t, 2e6, plan.RawBudget)
	assert.Equal(t, 123.0, plan.RealUsage)
	assert.Equal(t, []*sample.Sample{next}, plan.Admitted)
	assert.Equal(t, []Verdict{SkippedLedger, Admitted, Rejected}, verdicts(plan.Result))
}

func TestPlanRemoteProbeUnavailable(t *testing.T) {
	planner := NewPlanner(testConfig(t, t.TempDir()), completion.Oracle{}, nil)
	planner.Remote = &fakeProbe{err: errors.Wrap(disk_usage.ErrProbeUnavailable, "df on cluster:/remote/top")}

	_, err := planner.PlanRemote(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, disk_usage.ErrProbeUnavailable))

	_, err = NewPlanner(testConfig(t, t.TempDir()), completion.Oracle{}, nil).PlanLocal(context.Background(), nil)
	assert.Error(t, err)
}
