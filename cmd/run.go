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
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/pelicanplatform/rsempipeline/admission"
	"github.com/pelicanplatform/rsempipeline/completion"
	"github.com/pelicanplatform/rsempipeline/config"
	"github.com/pelicanplatform/rsempipeline/disk_usage"
	"github.com/pelicanplatform/rsempipeline/metrics"
	"github.com/pelicanplatform/rsempipeline/pipeline"
)

var (
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Process the samples that fit the local disk budget",
		Long: `Parse the soft files, keep the interested samples, fetch their SRA
listings, admit as many unfinished samples as fit the local disk budget
and run the pipeline on them up to the target task.`,
		RunE: runPipeline,
	}

	runJobs             int
	runJRsem            int
	runTarget           string
	runQsubTemplate     string
	runRecreateSrasInfo bool
	runIgnoreBudget     bool
	runWalkRate         float64
)

func init() {
	addSampleFlags(runCmd.Flags())
	flags := runCmd.Flags()
	flags.IntVarP(&runJobs, "jobs", "j", 1, "number of samples processed concurrently")
	flags.IntVar(&runJRsem, "j-rsem", 0, "threads given to rsem; 0 uses one per SRA archive")
	flags.StringVarP(&runTarget, "target-task", "T", string(pipeline.TaskGenQsubScript),
		"last task to run: download, sra2fastq, gen_qsub_script or rsem")
	flags.StringVarP(&runQsubTemplate, "qsub-template", "t", "", "qsub script template used by gen_qsub_script (a built-in one by default)")
	flags.BoolVar(&runRecreateSrasInfo, "recreate-sras-info", false,
		"refetch sras_info.yaml of every sample from the FTP server instead of reusing the cached ones")
	flags.BoolVar(&runIgnoreBudget, "ignore-disk-usage-rule", false,
		"DANGEROUS: admit every unfinished sample regardless of the disk budget; best used with a short -i list")
	flags.Float64Var(&runWalkRate, "walk-rate", 0, "maximum directory entries per second visited when measuring local usage; 0 means unlimited")
}

func runPipeline(cmd *cobra.Command, _ []string) (err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	lock, err := acquireLock(filepath.Join(home, ".rp-run"))
	if lock == nil || err != nil {
		return err
	}
	defer releaseLock(lock, &err)

	cfg, err := config.Validate(false)
	if err != nil {
		return err
	}
	target, err := pipeline.ParseTask(runTarget)
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg, pipeline.Options{
		Target:       target,
		Jobs:         runJobs,
		JRsem:        runJRsem,
		Debug:        viper.GetBool("Debug"),
		QsubTemplate: runQsubTemplate,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	samples, err := loadSamples(cfg)
	if err != nil {
		return err
	}
	if err := fetchSrasInfo(ctx, samples, runRecreateSrasInfo); err != nil {
		return err
	}

	log.Infof("Selecting samples to process based on their usages, available disk size and parameters specified in %s",
		viper.ConfigFileUsed())
	planner := admission.NewPlanner(cfg, completion.Oracle{FinalStage: target.FinalFlag()}, nil)
	probe := &disk_usage.LocalProbe{DfCommand: cfg.Local.CmdDf, Dir: cfg.LocalTopOutdir}
	if runWalkRate > 0 {
		probe.Limiter = rate.NewLimiter(rate.Limit(runWalkRate), int(runWalkRate)+1)
	}
	planner.Local = probe
	planner.IgnoreBudget = runIgnoreBudget

	plan, err := planner.PlanLocal(ctx, samples)
	metrics.SetComponentHealthFromError(metrics.Local_Disk, err, "")
	if err != nil {
		return err
	}
	metrics.RecordPlan("run", plan)
	defer writeMetrics(cfg, "run")

	if len(plan.Admitted) == 0 {
		log.Info("Cannot find a GSM that fits the disk usage rule")
		return nil
	}
	logSamples("GSMs to process:", plan.Admitted)

	err = runWithSignals(ctx, func(ctx context.Context) error {
		return p.Run(ctx, plan.Admitted)
	})
	metrics.RecordPipeline(&p.Stats)
	if failed := p.Stats.Failed.Load(); failed > 0 && err != nil {
		metrics.SetComponentHealthStatus(metrics.Run_Pipeline, metrics.StatusWarning, err.Error())
	} else {
		metrics.SetComponentHealthFromError(metrics.Run_Pipeline, err, "")
	}
	log.Infof("%d samples succeeded, %d failed, %d commands executed",
		p.Stats.Succeeded.Load(), p.Stats.Failed.Load(), p.Stats.Commands.Load())
	return err
}
