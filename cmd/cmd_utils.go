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
	"io"
	"os"
	"syscall"
	"time"

	"github.com/go-kit/log/term"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pelicanplatform/rsempipeline/isamp"
	"github.com/pelicanplatform/rsempipeline/metrics"
	"github.com/pelicanplatform/rsempipeline/param"
	"github.com/pelicanplatform/rsempipeline/runlock"
	"github.com/pelicanplatform/rsempipeline/sample"
	"github.com/pelicanplatform/rsempipeline/sra_info"
)

const ftpTimeout = 30 * time.Second

var (
	softFiles  []string
	isampInput string
)

func addSampleFlags(flags *pflag.FlagSet) {
	flags.StringSliceVarP(&softFiles, "soft-files", "s", nil, "a list of soft files, e.g. GSE24455_family.soft.subset")
	flags.StringVarP(&isampInput, "isamp", "i", "",
		`interested samples, either a GSE_species_GSM.csv file or a string like "GSE11111 GSM000001 GSM000002;GSE222222 GSM000001"`)
	_ = cobra.MarkFlagRequired(flags, "soft-files")
	_ = cobra.MarkFlagRequired(flags, "isamp")
}

// loadSamples intersects the soft files with the interested samples and
// creates their outdirs.
func loadSamples(cfg *param.Config) ([]*sample.Sample, error) {
	interested, err := isamp.Load(isampInput)
	if err != nil {
		return nil, err
	}
	samples, err := isamp.GenSamples(softFiles, interested, cfg.InterestedOrganisms)
	if err != nil {
		return nil, err
	}
	if err := sample.InitOutdirs(samples, cfg.LocalTopOutdir); err != nil {
		return nil, err
	}
	return samples, nil
}

// fetchSrasInfo lists the SRA archives of every sample without a
// sras_info.yaml yet, or of all samples when recreate is set.
func fetchSrasInfo(ctx context.Context, samples []*sample.Sample, recreate bool) error {
	var pending []*sample.Sample
	for _, smp := range samples {
		if recreate || !sra_info.Exists(smp.Outdir) {
			pending = append(pending, smp)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	fetcher, err := sra_info.DialFTP(ctx, pending[0].URL, ftpTimeout)
	if err != nil {
		metrics.SetComponentHealthFromError(metrics.SRA_FTP, err, "")
		return err
	}
	defer fetcher.Close()

	var progress io.Writer
	if term.IsTerminal(os.Stderr) {
		progress = os.Stderr
	}
	n, err := sra_info.FetchAll(ctx, fetcher, pending, recreate, progress)
	log.Infof("sras info fetched for %d of %d samples", n, len(pending))
	metrics.SetComponentHealthFromError(metrics.SRA_FTP, err, fmt.Sprintf("fetched %d of %d listings", n, len(pending)))
	return err
}

func logSamples(title string, samples []*sample.Sample) {
	log.Info(title)
	for k, smp := range samples {
		log.Infof("\t%3d %-30s %s", k+1, smp, smp.Outdir)
	}
}

// acquireLock returns a nil lock, and no error, when a previous run still
// holds it, so that cron invocations quietly do nothing.
func acquireLock(pattern string) (*runlock.Lock, error) {
	lock, err := runlock.Acquire(pattern)
	if errors.Is(err, runlock.ErrAlreadyRunning) {
		log.Infof("Nothing is done because the previous run hasn't completed yet: %v", err)
		return nil, nil
	}
	return lock, err
}

func releaseLock(lock *runlock.Lock, err *error) {
	if relErr := lock.Release(); relErr != nil {
		log.Errorln(relErr)
		if *err == nil {
			*err = relErr
		}
	}
}

func writeMetrics(cfg *param.Config, flow string) {
	health := metrics.GetHealthStatus()
	for component, status := range health.ComponentStatus {
		if status.Status != metrics.StatusOK.String() {
			log.Warnf("%s is %s: %s", component, status.Status, status.Message)
		}
	}
	log.Debugf("%s pass finished with overall health %s", flow, health.OverallStatus)
	if err := metrics.WriteTextfile(cfg.Metrics.TextfileDir, flow, time.Now()); err != nil {
		log.Warnln("Failed to export metrics:", err)
	}
}

// runWithSignals runs fn until it returns or the process receives
// SIGINT/SIGTERM, in which case fn's context is canceled.
func runWithSignals(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(func() error {
		return fn(ctx)
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err := g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Warnf("Received %v, stopping", sigErr.Signal)
	}
	return err
}
