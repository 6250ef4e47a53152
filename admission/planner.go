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
	"math"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/rsempipeline/byte_size"
	"github.com/pelicanplatform/rsempipeline/disk_usage"
	"github.com/pelicanplatform/rsempipeline/param"
	"github.com/pelicanplatform/rsempipeline/sample"
	"github.com/pelicanplatform/rsempipeline/sra_info"
)

// RemoteProbe is a probe that can also list the remote tree.
type RemoteProbe interface {
	disk_usage.Probe
	ListTree(ctx context.Context) ([]string, error)
}

// Plan is the outcome of one scheduling pass along with the probe values
// that produced its budget.
type Plan struct {
	Host         string
	FreeSpace    float64
	RealUsage    float64
	CurrentUsage float64
	MaxUsage     float64
	MinFree      float64
	RawBudget    float64
	Budget       float64
	Result
}

// Planner gathers the probe values once per pass and hands the budget to
// the selector.
type Planner struct {
	Config   *param.Config
	Selector *Selector

	Local  disk_usage.Probe
	Remote RemoteProbe

	// IgnoreBudget admits every unfinished sample in PlanLocal.
	IgnoreBudget bool
}

// NewPlanner wires a selector for the given configuration.
func NewPlanner(cfg *param.Config, oracle CompletionChecker, ledger LedgerReader) *Planner {
	return &Planner{
		Config: cfg,
		Selector: &Selector{
			Oracle: oracle,
			Ledger: ledger,
			Options: Options{
				SRA2FastqRatio:   cfg.Ratio.SRA2Fastq,
				Fastq2UsageRatio: cfg.Ratio.Fastq2Usage,
				EmergencyFloor:   cfg.Transfer.EmergencyFloor.Bytes(),
			},
		},
	}
}

func (p *Plan) budget(where string) {
	log.Infof("%s max usage: %s", where, byte_size.FormatSize(p.MaxUsage))
	log.Infof("%s min free: %s", where, byte_size.FormatSize(p.MinFree))
	p.RawBudget = CalcBudget(p.MaxUsage, p.CurrentUsage, p.FreeSpace, p.MinFree)
	p.Budget = FloorBudget(p.RawBudget)
	if p.RawBudget < 0 {
		log.Warnf("%s disk budget already exceeded by %s", where, byte_size.FormatSize(-p.RawBudget))
	}
	log.Infof("%s free to use: %s", where, byte_size.FormatSize(p.Budget))
}

// PlanLocal selects samples to process on this host.
func (pl *Planner) PlanLocal(ctx context.Context, candidates []*sample.Sample) (*Plan, error) {
	if pl.Local == nil {
		return nil, errors.New("no local disk probe configured")
	}
	free, err := pl.Local.FreeSpace(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot determine local free space")
	}
	used, err := pl.Local.UsedSpace(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot determine local usage")
	}
	host, _ := os.Hostname()
	plan := &Plan{
		Host:         host,
		FreeSpace:    float64(free),
		RealUsage:    float64(used),
		CurrentUsage: float64(used),
		MaxUsage:     pl.Config.Local.MaxUsage.Bytes(),
		MinFree:      pl.Config.Local.MinFree.Bytes(),
	}
	log.Infof("Local free space available: %s", byte_size.FormatSize(plan.FreeSpace))
	log.Infof("Local current usage by %s: %s", pl.Config.LocalTopOutdir, byte_size.FormatSize(plan.CurrentUsage))
	plan.budget("Local")

	plan.Result = pl.Selector.SelectForProcessing(candidates, plan.Budget, pl.IgnoreBudget)
	return plan, nil
}

// estimateLocal is the remote footprint of a sample whose remote copy is
// still being worked on.  Without local metadata nothing can be
// estimated, so the directory counts as zero.
func (pl *Planner) estimateLocal(localDir string) (float64, error) {
	info, err := pl.Selector.readInfo(localDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("No %s in %s; its remote usage is not counted", sra_info.FileName, localDir)
			return 0, nil
		}
		return 0, err
	}
	return EstimateRSEMUsage(info, pl.Config.Ratio.SRA2Fastq, pl.Config.Ratio.Fastq2Usage), nil
}

// PlanRemote selects processed samples to transfer to the remote host.
// The current remote usage is estimated from the samples still being
// analysed there; du is only reported.
func (pl *Planner) PlanRemote(ctx context.Context, candidates []*sample.Sample) (*Plan, error) {
	if pl.Remote == nil {
		return nil, errors.New("no remote disk probe configured")
	}
	free, err := pl.Remote.FreeSpace(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot determine remote free space")
	}
	plan := &Plan{
		Host:      pl.Config.Remote.Host,
		FreeSpace: float64(free),
		MinFree:   pl.Config.Remote.MinFree.Bytes(),
	}
	log.Infof("Remote free space on %s: %s", plan.Host, byte_size.FormatSize(plan.FreeSpace))

	if used, err := pl.Remote.UsedSpace(ctx); err != nil {
		log.Warnf("Cannot determine real usage on %s: %v", plan.Host, err)
	} else {
		plan.RealUsage = float64(used)
		log.Infof("Real current usage on %s by %s: %s", plan.Host, pl.Config.RemoteTopOutdir,
			byte_size.FormatSize(plan.RealUsage))
	}

	paths, err := pl.Remote.ListTree(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot estimate current remote usage")
	}
	plan.CurrentUsage, err = disk_usage.EstimateRemoteUsage(paths, pl.Config.RemoteTopOutdir,
		pl.Config.LocalTopOutdir, pl.estimateLocal)
	if err != nil {
		return nil, err
	}
	log.Infof("Estimated current usage (excluding samples with rsem.COMPLETE) on %s by %s: %s",
		plan.Host, pl.Config.RemoteTopOutdir, byte_size.FormatSize(plan.CurrentUsage))

	plan.MaxUsage = math.Min(pl.Config.Remote.MaxUsage.Bytes(), plan.FreeSpace)
	plan.budget("Remote")

	plan.Result, err = pl.Selector.SelectForTransfer(candidates, plan.Budget)
	if err != nil {
		return nil, err
	}
	return plan, nil
}
