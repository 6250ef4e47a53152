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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/rsempipeline/param"
)

const goodConfig = `
LocalTopOutdir: /scratch/rsem_output
RemoteTopOutdir: /projects/rsem_output
Local:
  MaxUsage: 10 TB
  MinFree: 500 GB
Remote:
  Host: cluster.example.org
  User: rsem
  MaxUsage: 20 TB
  MinFree: 1 TB
Ratio:
  Fastq2Usage: 1.2
`

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "rp_config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func resetConfig(t *testing.T) {
	require.NoError(t, param.Reset())
	t.Cleanup(func() { _ = param.Reset() })
}

func TestInitReadsFileAndDefaults(t *testing.T) {
	resetConfig(t)

	require.NoError(t, Init(writeConfig(t, goodConfig)))

	assert.Equal(t, "/scratch/rsem_output", param.LocalTopOutdir.GetString())
	assert.Equal(t, 1.2, param.Ratio_Fastq2Usage.GetFloat64())
	// Defaults fill what the file leaves out.
	assert.Equal(t, 1.5, param.Ratio_SRA2Fastq.GetFloat64())
	assert.Equal(t, 22, param.Remote_Port.GetInt())
	assert.Equal(t, "df -k -P /scratch/rsem_output", param.Local_CmdDf.GetString())
	assert.Equal(t, "df -k -P /projects/rsem_output", param.Remote_CmdDf.GetString())
	assert.Equal(t, []string{"Homo sapiens", "Mus musculus"}, param.InterestedOrganisms.GetStringSlice())
}

func TestInitMissingExplicitFile(t *testing.T) {
	resetConfig(t)
	err := Init(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestInitRejectsMalformedSize(t *testing.T) {
	resetConfig(t)
	err := Init(writeConfig(t, "LocalTopOutdir: /tmp\nLocal:\n  MaxUsage: 3 EB\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid size")
}

func TestValidate(t *testing.T) {
	t.Run("local-and-remote", func(t *testing.T) {
		resetConfig(t)
		require.NoError(t, Init(writeConfig(t, goodConfig)))
		cfg, err := Validate(true)
		require.NoError(t, err)
		assert.Equal(t, "cluster.example.org", cfg.Remote.Host)
	})

	t.Run("missing-remote-host", func(t *testing.T) {
		resetConfig(t)
		require.NoError(t, Init(writeConfig(t, goodConfig)))
		require.NoError(t, param.Set("Remote.Host", ""))
		_, err := Validate(true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Remote.Host")

		// The run flow does not need the remote host.
		_, err = Validate(false)
		assert.NoError(t, err)
	})

	t.Run("non-positive-ratio", func(t *testing.T) {
		resetConfig(t)
		require.NoError(t, Init(writeConfig(t, goodConfig)))
		require.NoError(t, param.Set("Ratio.SRA2Fastq", 0))
		_, err := Validate(false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Ratio.SRA2Fastq")
	})

	t.Run("missing-bounds", func(t *testing.T) {
		resetConfig(t)
		require.NoError(t, Init(writeConfig(t, "LocalTopOutdir: /scratch\n")))
		_, err := Validate(false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Local.MaxUsage")
	})

	t.Run("relative-outdir-made-absolute", func(t *testing.T) {
		resetConfig(t)
		require.NoError(t, Init(writeConfig(t, goodConfig)))
		require.NoError(t, param.Set("LocalTopOutdir", "rsem_output"))
		cfg, err := Validate(false)
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(cfg.LocalTopOutdir))
		// The cached snapshot is left untouched.
		assert.Equal(t, "rsem_output", param.LocalTopOutdir.GetString())
	})
}

func TestUnknownConfigKeys(t *testing.T) {
	t.Run("recognized-keys", func(t *testing.T) {
		resetConfig(t)
		hook := test.NewLocal(logrus.StandardLogger())
		require.NoError(t, Init(writeConfig(t, goodConfig+"LocalReferenceNames:\n  homo_sapiens: /refs/hg38\n")))
		for _, entry := range hook.AllEntries() {
			assert.NotEqual(t, logrus.WarnLevel, entry.Level, entry.Message)
		}
	})

	t.Run("bad-file-key", func(t *testing.T) {
		resetConfig(t)
		hook := test.NewLocal(logrus.StandardLogger())
		require.NoError(t, Init(writeConfig(t, goodConfig+"RemoteHots: typo.example.org\n")))
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		assert.Contains(t, hook.LastEntry().Message, "remotehots")
	})

	t.Run("bad-env-key", func(t *testing.T) {
		resetConfig(t)
		t.Setenv("RSEMPIPELINE_LOCAL_BAD", "x")
		hook := test.NewLocal(logrus.StandardLogger())
		require.NoError(t, Init(writeConfig(t, goodConfig)))
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		assert.Contains(t, hook.LastEntry().Message, "local.bad")
	})
}
