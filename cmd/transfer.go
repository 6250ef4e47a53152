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

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pelicanplatform/rsempipeline/admission"
	"github.com/pelicanplatform/rsempipeline/completion"
	"github.com/pelicanplatform/rsempipeline/config"
	"github.com/pelicanplatform/rsempipeline/disk_usage"
	"github.com/pelicanplatform/rsempipeline/metrics"
	"github.com/pelicanplatform/rsempipeline/param"
	"github.com/pelicanplatform/rsempipeline/ssh_exec"
	"github.com/pelicanplatform/rsempipeline/transfer"
)

var (
	transferCmd = &cobra.Command{
		Use:   "transfer",
		Short: "Ship processed samples that fit the remote disk budget",
		Long: `Measure the remote top outdir over SSH, estimate what the samples still
being analysed there will use, and rsync as many processed samples as
fit the remote budget.  Shipped samples are recorded in
<LocalTopOutdir>/` + completion.LedgerFile + `.`,
		RunE: runTransfer,
	}

	transferRsyncTemplate string
)

func init() {
	addSampleFlags(transferCmd.Flags())
	transferCmd.Flags().StringVarP(&transferRsyncTemplate, "rsync-template", "t", "",
		"template of the transfer script (a built-in rsync one by default)")
}

// connectRemote opens the SSH connection the remote probe runs over.
func connectRemote(ctx context.Context, cfg *param.Config) (*ssh_exec.Connection, *disk_usage.RemoteProbe, error) {
	sshCfg, err := ssh_exec.ConfigFromParams(cfg)
	if err != nil {
		return nil, nil, err
	}
	conn := ssh_exec.NewConnection(sshCfg)
	err = conn.Connect(ctx)
	metrics.SetComponentHealthFromError(metrics.Remote_SSH, err, "connected to "+cfg.Remote.Host)
	if err != nil {
		return nil, nil, errors.Wrapf(disk_usage.ErrProbeUnavailable, "cannot reach %s: %v", cfg.Remote.Host, err)
	}
	probe := &disk_usage.RemoteProbe{
		Runner:    conn,
		Host:      cfg.Remote.Host,
		DfCommand: cfg.Remote.CmdDf,
		Dir:       cfg.RemoteTopOutdir,
	}
	return conn, probe, nil
}

func runTransfer(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := config.Validate(true)
	if err != nil {
		return err
	}
	if transferRsyncTemplate == "" {
		transferRsyncTemplate = cfg.Transfer.RsyncTemplate
	}
	tr, err := transfer.New(cfg, transferRsyncTemplate)
	if err != nil {
		return err
	}

	lock, err := acquireLock(filepath.Join(cfg.LocalTopOutdir, ".rp-transfer"))
	if lock == nil || err != nil {
		return err
	}
	defer releaseLock(lock, &err)

	ctx := cmd.Context()
	samples, err := loadSamples(cfg)
	if err != nil {
		return err
	}

	conn, probe, err := connectRemote(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	planner := admission.NewPlanner(cfg, completion.Oracle{}, tr.Ledger)
	planner.Remote = probe
	plan, err := planner.PlanRemote(ctx, samples)
	metrics.SetComponentHealthFromError(metrics.Remote_Disk, err, "")
	if err != nil {
		return err
	}
	metrics.RecordPlan("transfer", plan)
	defer writeMetrics(cfg, "transfer")

	if len(plan.Admitted) == 0 {
		log.Info("Cannot find a GSM that fits the current disk usage rule")
		return nil
	}
	logSamples("GSMs to transfer:", plan.Admitted)

	err = runWithSignals(ctx, func(ctx context.Context) error {
		return tr.Transfer(ctx, plan.Admitted)
	})
	metrics.SetComponentHealthFromError(metrics.Run_Transfer, err, fmt.Sprintf("%d samples transferred", len(plan.Admitted)))
	return err
}
