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

// Package metrics exposes the outcome of each scheduling pass as
// Prometheus gauges.  Passes run from cron, so the gauges are written to
// a node_exporter textfile rather than served.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pelicanplatform/rsempipeline/admission"
	"github.com/pelicanplatform/rsempipeline/pipeline"
)

var Registry = prometheus.NewRegistry()

var (
	DiskFreeBytes = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsempipeline_disk_free_bytes",
		Help: "Free space reported by df on the target host",
	}, []string{"flow", "host"})

	DiskUsageBytes = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsempipeline_disk_usage_bytes",
		Help: "Usage of the top outdir counted against the budget",
	}, []string{"flow", "host"})

	DiskBudgetBytes = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsempipeline_disk_budget_bytes",
		Help: "Unfloored budget at the start of the pass; negative when exceeded",
	}, []string{"flow", "host"})

	BudgetRemainingBytes = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsempipeline_budget_remaining_bytes",
		Help: "Budget left after admitting samples",
	}, []string{"flow", "host"})

	Decisions = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsempipeline_decisions",
		Help: "Number of candidates per admission verdict in the last pass",
	}, []string{"flow", "verdict"})

	PipelineSamples = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsempipeline_pipeline_samples",
		Help: "Samples processed by the last pipeline run, by result",
	}, []string{"result"})

	PipelineCommands = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "rsempipeline_pipeline_commands",
		Help: "Commands executed by the last pipeline run",
	})

	LastRunTimestamp = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsempipeline_last_run_timestamp_seconds",
		Help: "When the last pass of a flow finished",
	}, []string{"flow"})
)

// RecordPlan sets the disk and decision gauges of flow from plan.
func RecordPlan(flow string, plan *admission.Plan) {
	DiskFreeBytes.WithLabelValues(flow, plan.Host).Set(plan.FreeSpace)
	DiskUsageBytes.WithLabelValues(flow, plan.Host).Set(plan.CurrentUsage)
	DiskBudgetBytes.WithLabelValues(flow, plan.Host).Set(plan.RawBudget)
	BudgetRemainingBytes.WithLabelValues(flow, plan.Host).Set(plan.Remaining)
	for _, verdict := range admission.Verdicts {
		Decisions.WithLabelValues(flow, string(verdict)).Set(float64(plan.Count(verdict)))
	}
}

func RecordPipeline(stats *pipeline.Stats) {
	PipelineSamples.WithLabelValues("succeeded").Set(float64(stats.Succeeded.Load()))
	PipelineSamples.WithLabelValues("failed").Set(float64(stats.Failed.Load()))
	PipelineCommands.Set(float64(stats.Commands.Load()))
}

// WriteTextfile stamps the flow as finished and writes every gauge to
// <dir>/rsempipeline_<flow>.prom.  An empty dir disables the export.
func WriteTextfile(dir, flow string, now time.Time) error {
	if dir == "" {
		return nil
	}
	LastRunTimestamp.WithLabelValues(flow).Set(float64(now.Unix()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create metrics directory %s", dir)
	}
	file := filepath.Join(dir, "rsempipeline_"+flow+".prom")
	return errors.Wrapf(prometheus.WriteToTextfile(file, Registry), "failed to write metrics to %s", file)
}
