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

package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/rsempipeline/admission"
	"github.com/pelicanplatform/rsempipeline/pipeline"
	"github.com/pelicanplatform/rsempipeline/sample"
)

func TestRecordPlan(t *testing.T) {
	plan := &admission.Plan{
		Host:         "cluster.example.org",
		FreeSpace:    2e6,
		CurrentUsage: 7e5,
		RawBudget:    -1024,
	}
	plan.Decisions = []admission.Decision{
		{Sample: &sample.Sample{Name: "GSM1"}, Verdict: admission.Admitted},
		{Sample: &sample.Sample{Name: "GSM2"}, Verdict: admission.Rejected},
		{Sample: &sample.Sample{Name: "GSM3"}, Verdict: admission.Rejected},
	}
	plan.Remaining = 3e5

	RecordPlan("transfer", plan)
	assert.Equal(t, 2e6, testutil.ToFloat64(DiskFreeBytes.WithLabelValues("transfer", "cluster.example.org")))
	assert.Equal(t, 7e5, testutil.ToFloat64(DiskUsageBytes.WithLabelValues("transfer", "cluster.example.org")))
	assert.Equal(t, -1024.0, testutil.ToFloat64(DiskBudgetBytes.WithLabelValues("transfer", "cluster.example.org")))
	assert.Equal(t, 3e5, testutil.ToFloat64(BudgetRemainingBytes.WithLabelValues("transfer", "cluster.example.org")))
	assert.Equal(t, 2.0, testutil.ToFloat64(Decisions.WithLabelValues("transfer", "rejected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(Decisions.WithLabelValues("transfer", "skipped-ledger")))
}

func TestRecordPipeline(t *testing.T) {
	var stats pipeline.Stats
	stats.Succeeded.Add(3)
	stats.Failed.Inc()
	stats.Commands.Add(7)

	RecordPipeline(&stats)
	assert.Equal(t, 3.0, testutil.ToFloat64(PipelineSamples.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PipelineSamples.WithLabelValues("failed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(PipelineCommands))
}

func TestWriteTextfile(t *testing.T) {
	require.NoError(t, WriteTextfile("", "run", time.Now()))

	dir := filepath.Join(t.TempDir(), "textfiles")
	now := time.Unix(1408364275, 0)
	require.NoError(t, WriteTextfile(dir, "run", now))

	contents, err := os.ReadFile(filepath.Join(dir, "rsempipeline_run.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), `rsempipeline_last_run_timestamp_seconds{flow="run"} 1.408364275e+09`)
}
