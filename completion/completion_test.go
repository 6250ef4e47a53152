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

package completion

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/rsempipeline/sra_info"
)

func touch(t *testing.T, p string) {
	require.NoError(t, os.WriteFile(p, []byte("created\n"), 0644))
}

func newOutdir(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, sra_info.Write(dir, sra_info.Info{
		sra_info.NewEntry("SRX1/SRR1/SRR1.sra", 100),
		sra_info.NewEntry("SRX1/SRR2/SRR2.sra", 200),
	}))
	return dir
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name     string
		flags    []string
		final    string
		complete bool
		stage    string
	}{
		{"nothing", nil, "", false, "download"},
		{"one-download", []string{"SRR1.sra.download.COMPLETE"}, "", false, "download"},
		{"downloaded", []string{"SRR1.sra.download.COMPLETE", "SRR2.sra.download.COMPLETE"}, "", false, "sra2fastq"},
		{"converted", []string{
			"SRR1.sra.download.COMPLETE", "SRR2.sra.download.COMPLETE",
			"SRR1.sra.sra2fastq.COMPLETE", "SRR2.sra.sra2fastq.COMPLETE",
		}, "", false, "gen_qsub_script"},
		{"qsub", []string{
			"SRR1.sra.download.COMPLETE", "SRR2.sra.download.COMPLETE",
			"SRR1.sra.sra2fastq.COMPLETE", "SRR2.sra.sra2fastq.COMPLETE", QsubScript,
		}, "", true, ""},
		{"qsub-but-local-rsem", []string{
			"SRR1.sra.download.COMPLETE", "SRR2.sra.download.COMPLETE",
			"SRR1.sra.sra2fastq.COMPLETE", "SRR2.sra.sra2fastq.COMPLETE", QsubScript,
		}, RsemFlag, false, "rsem"},
		{"rsem", []string{
			"SRR1.sra.download.COMPLETE", "SRR2.sra.download.COMPLETE",
			"SRR1.sra.sra2fastq.COMPLETE", "SRR2.sra.sra2fastq.COMPLETE", RsemFlag,
		}, RsemFlag, true, ""},
		{"fastq-without-download", []string{
			"SRR1.sra.sra2fastq.COMPLETE", "SRR2.sra.sra2fastq.COMPLETE", QsubScript,
		}, "", false, "download"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := test.NewLocal(logrus.StandardLogger())
			defer hook.Reset()
			logrus.SetLevel(logrus.DebugLevel)
			defer logrus.SetLevel(logrus.InfoLevel)

			dir := newOutdir(t)
			for _, flag := range tt.flags {
				touch(t, filepath.Join(dir, flag))
			}
			done, err := Oracle{FinalStage: tt.final}.IsComplete(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.complete, done)
			if !tt.complete {
				require.NotNil(t, hook.LastEntry())
				assert.Contains(t, hook.LastEntry().Message, tt.stage+" not completed yet")
			}
		})
	}
}

func TestIsCompleteMissingMetadata(t *testing.T) {
	done, err := Oracle{}.IsComplete(t.TempDir())
	assert.False(t, done)
	assert.True(t, errors.Is(err, ErrMetadataMissing))
}

func TestIsCompleteMalformedMetadata(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(sra_info.Path(dir), []byte("- a: [\n"), 0644))
	_, err := Oracle{}.IsComplete(dir)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMetadataMissing))
}

func TestStages(t *testing.T) {
	dir := newOutdir(t)
	touch(t, filepath.Join(dir, "SRR1.sra.download.COMPLETE"))
	touch(t, filepath.Join(dir, "SRR2.sra.download.COMPLETE"))
	touch(t, filepath.Join(dir, QsubScript))

	stages, err := Oracle{}.Stages(dir)
	require.NoError(t, err)
	assert.Equal(t, []Stage{
		{Name: "download", Complete: true},
		{Name: "sra2fastq", Complete: false},
		{Name: "gen_qsub_script", Complete: true},
	}, stages)
}

func TestLedger(t *testing.T) {
	ledger := NewLedger(t.TempDir())

	ids, err := ledger.Load()
	require.NoError(t, err)
	assert.Empty(t, ids)

	now := time.Date(2014, 7, 9, 13, 5, 6, 0, time.UTC)
	require.NoError(t, ledger.Append([]string{"GSE1/homo_sapiens/GSM1", "GSE1/homo_sapiens/GSM2"}, now))
	require.NoError(t, ledger.Append(nil, now))
	require.NoError(t, ledger.Append([]string{"GSE2/mus_musculus/GSM3"}, now.Add(time.Hour)))

	contents, err := os.ReadFile(ledger.Path)
	require.NoError(t, err)
	assert.Equal(t, "# 14-07-09 13:05:06\nGSE1/homo_sapiens/GSM1\nGSE1/homo_sapiens/GSM2\n"+
		"# 14-07-09 14:05:06\nGSE2/mus_musculus/GSM3\n", string(contents))

	ids, err = ledger.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"GSE1/homo_sapiens/GSM1", "GSE1/homo_sapiens/GSM2", "GSE2/mus_musculus/GSM3"}, ids)

	found, err := ledger.Contains("GSE1/homo_sapiens/GSM2")
	require.NoError(t, err)
	assert.True(t, found)
	found, err = ledger.Contains("GSM2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLedgerIgnoresCommentsAndBlanks(t *testing.T) {
	ledger := NewLedger(t.TempDir())
	require.NoError(t, os.WriteFile(ledger.Path, []byte("# header\n\n  GSM9  \n#GSM10\n"), 0644))
	ids, err := ledger.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"GSM9"}, ids)
}
