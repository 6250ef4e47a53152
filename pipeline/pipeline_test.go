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
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/rsempipeline/completion"
	"github.com/pelicanplatform/rsempipeline/param"
	"github.com/pelicanplatform/rsempipeline/sample"
	"github.com/pelicanplatform/rsempipeline/sra_info"
)

const (
	sampleURL = "ftp://ftp-trace.ncbi.nlm.nih.gov/sra/sra-instant/reads/ByExp/sra/SRX/SRX029/SRX029242"
	sraPath   = "SRX029242/SRR070177/SRR070177.sra"
)

type fakeExecutor struct {
	mu    sync.Mutex
	cmds  []string
	fail  func(cmd string) bool
	onRun func(cmd string)
}

func (f *fakeExecutor) Execute(_ context.Context, cmd string) error {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.mu.Unlock()
	if f.fail != nil && f.fail(cmd) {
		return errors.New("exit status 1")
	}
	if f.onRun != nil {
		f.onRun(cmd)
	}
	return nil
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func newSample(t *testing.T, top, gsm string, withInfo bool) *sample.Sample {
	series := sample.NewSeries("GSE24455", filepath.Join(top, "GSE24455_family.soft.subset"))
	smp := sample.NewSample(gsm, series)
	smp.Organism = "Homo sapiens"
	smp.URL = sampleURL
	series.AddPassedSample(smp)
	require.NoError(t, sample.InitOutdirs([]*sample.Sample{smp}, top))
	if withInfo {
		require.NoError(t, sra_info.Write(smp.Outdir, sra_info.Info{sra_info.NewEntry(sraPath, 1024)}))
	}
	return smp
}

func testConfig() *param.Config {
	cfg := &param.Config{}
	cfg.Cmd.Ascp = "ascp -L {{.LogDir}} anonftp@ftp-trace.ncbi.nlm.nih.gov:{{.URLPath}} {{.OutputDir}}"
	cfg.Cmd.Wget = "wget ftp://ftp-trace.ncbi.nlm.nih.gov{{.URLPath}} -P {{.OutputDir}} -N"
	cfg.Cmd.FastqDump = "fastq-dump --gzip --split-files --outdir {{.OutputDir}} {{.Accession}}"
	cfg.Cmd.Rsem = "rsem-calculate-expression -p {{.NJobs}} {{.FastqGzInput}} {{.ReferenceName}} {{.SampleName}}"
	cfg.RemoteReferenceNames = map[string]string{"homo_sapiens": "/remote/refs/hg38"}
	cfg.LocalReferenceNames = map[string]string{"homo_sapiens": "/local/refs/hg38"}
	return cfg
}

func touch(t *testing.T, p string) {
	require.NoError(t, os.WriteFile(p, nil, 0644))
}

func TestRunGenQsubScript(t *testing.T) {
	top := t.TempDir()
	smp := newSample(t, top, "GSM602557", true)

	exec := &fakeExecutor{
		fail: func(cmd string) bool { return strings.HasPrefix(cmd, "ascp") },
		onRun: func(cmd string) {
			if strings.HasPrefix(cmd, "fastq-dump") {
				touch(t, filepath.Join(smp.Outdir, "SRR070177_1.fastq.gz"))
				touch(t, filepath.Join(smp.Outdir, "SRR070177_2.fastq.gz"))
			}
		},
	}
	p, err := New(testConfig(), Options{Target: TaskGenQsubScript, Executor: exec})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), []*sample.Sample{smp}))

	sraDir := filepath.Join(smp.Outdir, "SRX029242", "SRR070177")
	urlPath := "/sra/sra-instant/reads/ByExp/sra/SRX/SRX029/SRX029242/SRR070177/SRR070177.sra"
	assert.Equal(t, []string{
		"ascp -L " + sraDir + " anonftp@ftp-trace.ncbi.nlm.nih.gov:" + urlPath + " " + sraDir,
		"wget ftp://ftp-trace.ncbi.nlm.nih.gov" + urlPath + " -P " + sraDir + " -N",
		"fastq-dump --gzip --split-files --outdir " + smp.Outdir + " " + filepath.Join(sraDir, "SRR070177.sra"),
	}, exec.commands())
	assert.DirExists(t, sraDir)
	assert.FileExists(t, filepath.Join(smp.Outdir, "SRR070177.sra"+completion.DownloadFlagSuffix))
	assert.FileExists(t, filepath.Join(smp.Outdir, "SRR070177.sra"+completion.Sra2FastqFlagSuffix))

	script, err := os.ReadFile(filepath.Join(smp.Outdir, completion.QsubScript))
	require.NoError(t, err)
	assert.Contains(t, string(script), "#$ -N GSM602557")
	assert.Contains(t, string(script), "-p 1")
	assert.Contains(t, string(script), "--paired-end <(/bin/zcat SRR070177_1.fastq.gz) <(/bin/zcat SRR070177_2.fastq.gz)")
	assert.Contains(t, string(script), "/remote/refs/hg38")

	done, err := completion.Oracle{}.IsComplete(smp.Outdir)
	require.NoError(t, err)
	assert.True(t, done)
	assert.EqualValues(t, 1, p.Stats.Succeeded.Load())
	assert.EqualValues(t, 3, p.Stats.Commands.Load())

	// Everything is flagged, so a second pass runs nothing.
	again := &fakeExecutor{}
	p, err = New(testConfig(), Options{Executor: again})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), []*sample.Sample{smp}))
	assert.Empty(t, again.commands())
}

func TestRunDebugOnlyPrints(t *testing.T) {
	top := t.TempDir()
	smp := newSample(t, top, "GSM602557", true)
	exec := &fakeExecutor{}

	p, err := New(testConfig(), Options{Debug: true, Executor: exec})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), []*sample.Sample{smp}))

	assert.Empty(t, exec.commands())
	assert.NoFileExists(t, filepath.Join(smp.Outdir, "SRR070177.sra"+completion.DownloadFlagSuffix))
	assert.NoFileExists(t, filepath.Join(smp.Outdir, completion.QsubScript))
	assert.EqualValues(t, 0, p.Stats.Commands.Load())
}

func TestRunRsemLocally(t *testing.T) {
	top := t.TempDir()
	smp := newSample(t, top, "GSM602557", true)
	touch(t, filepath.Join(smp.Outdir, "SRR070177.sra"+completion.DownloadFlagSuffix))
	touch(t, filepath.Join(smp.Outdir, "SRR070177.sra"+completion.Sra2FastqFlagSuffix))
	touch(t, filepath.Join(smp.Outdir, "SRR070177_1.fastq.gz"))

	exec := &fakeExecutor{}
	p, err := New(testConfig(), Options{Target: TaskRsem, JRsem: 4, Executor: exec})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), []*sample.Sample{smp}))

	assert.Equal(t, []string{
		"rsem-calculate-expression -p 4 <(/bin/zcat " + filepath.Join(smp.Outdir, "SRR070177_1.fastq.gz") + ") " +
			"/local/refs/hg38 " + filepath.Join(smp.Outdir, "GSM602557"),
	}, exec.commands())
	assert.FileExists(t, filepath.Join(smp.Outdir, completion.RsemFlag))

	done, err := completion.Oracle{FinalStage: TaskRsem.FinalFlag()}.IsComplete(smp.Outdir)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRunCountsFailures(t *testing.T) {
	top := t.TempDir()
	good := newSample(t, top, "GSM1", true)
	noInfo := newSample(t, top, "GSM2", false)

	cfg := testConfig()
	cfg.Cmd.Ascp = ""
	exec := &fakeExecutor{fail: func(cmd string) bool { return strings.HasPrefix(cmd, "wget") }}
	p, err := New(cfg, Options{Target: TaskDownload, Jobs: 2, Executor: exec})
	require.NoError(t, err)

	err = p.Run(context.Background(), []*sample.Sample{good, noInfo})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 samples failed")
	assert.EqualValues(t, 2, p.Stats.Failed.Load())
	assert.NoFileExists(t, filepath.Join(good.Outdir, "SRR070177.sra"+completion.DownloadFlagSuffix))
	assert.Len(t, exec.commands(), 1)
}

func TestRunCanceled(t *testing.T) {
	smp := newSample(t, t.TempDir(), "GSM1", true)
	p, err := New(testConfig(), Options{Executor: &fakeExecutor{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Run(ctx, []*sample.Sample{smp})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Cmd.Wget = ""
	_, err := New(cfg, Options{})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Cmd.Rsem = ""
	_, err = New(cfg, Options{Target: TaskRsem})
	assert.Error(t, err)
	_, err = New(cfg, Options{Target: TaskGenQsubScript})
	assert.NoError(t, err)

	cfg = testConfig()
	cfg.RemoteReferenceNames = nil
	_, err = New(cfg, Options{Target: TaskGenQsubScript})
	assert.Error(t, err)
	_, err = New(cfg, Options{Target: TaskSra2Fastq})
	assert.NoError(t, err)

	cfg = testConfig()
	cfg.Cmd.FastqDump = "fastq-dump {{.OutputDir"
	_, err = New(cfg, Options{})
	assert.Error(t, err)

	_, err = New(testConfig(), Options{QsubTemplate: filepath.Join(t.TempDir(), "missing.sh")})
	assert.Error(t, err)
}

func TestParseTask(t *testing.T) {
	task, err := ParseTask("gen_qsub_script")
	require.NoError(t, err)
	assert.Equal(t, TaskGenQsubScript, task)
	assert.Equal(t, completion.QsubScript, task.FinalFlag())
	assert.Equal(t, []Task{TaskDownload, TaskSra2Fastq}, TaskSra2Fastq.chain())

	_, err = ParseTask("align")
	assert.Error(t, err)
}

func TestGenFastqGzInput(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		expected string
	}{
		{"paired", []string{"SRR2_2.fastq.gz", "SRR1_1.fastq.gz", "SRR2_1.fastq.gz", "SRR1_2.fastq.gz"},
			"--paired-end <(/bin/zcat SRR1_1.fastq.gz SRR2_1.fastq.gz) <(/bin/zcat SRR1_2.fastq.gz SRR2_2.fastq.gz)"},
		{"single", []string{"ERR9_1.fastq.gz"}, "<(/bin/zcat ERR9_1.fastq.gz)"},
		{"only second mate", []string{"DRR5_2.fastq.gz", "notes.txt"}, "<(/bin/zcat DRR5_2.fastq.gz)"},
		{"nothing", []string{"SRR1.sra"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GenFastqGzInput(tt.files))
		})
	}
}

func TestDecideNumJobs(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, 1, DecideNumJobs(dir, 0))
	assert.Equal(t, 8, DecideNumJobs(dir, 8))

	require.NoError(t, sra_info.Write(dir, sra_info.Info{
		sra_info.NewEntry("SRX1/SRR1/SRR1.sra", 1),
		sra_info.NewEntry("SRX1/SRR2/SRR2.sra", 1),
		sra_info.NewEntry("SRX1/SRR3/SRR3.sra", 1),
	}))
	assert.Equal(t, 3, DecideNumJobs(dir, 0))
}

func TestTouch(t *testing.T) {
	flag := filepath.Join(t.TempDir(), "rsem.COMPLETE")
	now := time.Date(2014, 7, 9, 13, 5, 6, 0, time.Local)
	require.NoError(t, Touch(flag, now))
	require.NoError(t, Touch(flag, now))

	contents, err := os.ReadFile(flag)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(contents), "created: 2014-07-09 13:05:06.000000\n"))
	assert.Contains(t, string(contents), "location of code execution: ")
}

func TestSraURLPath(t *testing.T) {
	p, err := sraURLPath(sampleURL, sraPath)
	require.NoError(t, err)
	assert.Equal(t, "/sra/sra-instant/reads/ByExp/sra/SRX/SRX029/SRX029242/SRR070177/SRR070177.sra", p)

	_, err = sraURLPath("ftp://bad host/%zz", sraPath)
	assert.Error(t, err)
}

func TestBashExecutor(t *testing.T) {
	dir := t.TempDir()
	flag := filepath.Join(dir, "out")
	require.NoError(t, BashExecutor{}.Execute(context.Background(), "echo hi > "+flag))
	assert.FileExists(t, flag)
	assert.Error(t, BashExecutor{}.Execute(context.Background(), "exit 3"))
}
