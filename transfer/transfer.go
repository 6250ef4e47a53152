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

// Package transfer ships processed sample directories to the remote
// cluster by templating an rsync script, running it, and recording the
// shipped samples in the ledger.
package transfer

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/rsempipeline/completion"
	"github.com/pelicanplatform/rsempipeline/param"
	"github.com/pelicanplatform/rsempipeline/pipeline"
	"github.com/pelicanplatform/rsempipeline/sample"
	"github.com/pelicanplatform/rsempipeline/ssh_exec"
)

// ScriptDir collects the generated scripts under the local top outdir.
const ScriptDir = "transfer_scripts"

const jobTimeFormat = "06-01-02_15:04:05"

//go:embed resources/rsync.sh
var defaultRsyncTemplate string

// scriptData is what the rsync template sees.
type scriptData struct {
	JobName         string
	Username        string
	Hostname        string
	GSMsToTransfer  []string
	LocalTopOutdir  string
	RemoteTopOutdir string
}

// funcMap is available to every rsync template; quote makes a path safe
// to paste into a shell command line.
var funcMap = template.FuncMap{
	"quote": func(s string) string { return shellquote.Join(s) },
}

// LoadTemplate reads the rsync template at path, or returns the built-in
// one when path is empty.
func LoadTemplate(path string) (*template.Template, error) {
	name, text := "rsync.sh", defaultRsyncTemplate
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read rsync template %s", path)
		}
		name, text = filepath.Base(path), string(data)
	}
	tmpl, err := template.New(name).Funcs(funcMap).Option("missingkey=error").Parse(text)
	return tmpl, errors.Wrapf(err, "invalid rsync template %s", name)
}

type Transferer struct {
	LocalTopOutdir  string
	RemoteTopOutdir string
	Username        string
	Hostname        string

	Template *template.Template
	Ledger   *completion.Ledger
	Executor pipeline.Executor

	now func() time.Time
}

// New builds a transferer from the configuration and the rsync template
// at templatePath.
func New(cfg *param.Config, templatePath string) (*Transferer, error) {
	tmpl, err := LoadTemplate(templatePath)
	if err != nil {
		return nil, err
	}
	// Same fallback as the SSH connection the remote probe uses.
	username, err := ssh_exec.ResolveUser(cfg.Remote.User)
	if err != nil {
		return nil, err
	}
	return &Transferer{
		LocalTopOutdir:  cfg.LocalTopOutdir,
		RemoteTopOutdir: cfg.RemoteTopOutdir,
		Username:        username,
		Hostname:        cfg.Remote.Host,
		Template:        tmpl,
		Ledger:          completion.NewLedger(cfg.LocalTopOutdir),
		Executor:        pipeline.BashExecutor{},
	}, nil
}

func (t *Transferer) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// IDs turns sample outdirs into ledger identifiers, the outdir relative
// to the local top outdir, e.g. rsem_output/GSE1/homo_sapiens/GSM1.
func IDs(samples []*sample.Sample, localTopOutdir string) ([]string, error) {
	ids := make([]string, 0, len(samples))
	for _, smp := range samples {
		rel, err := filepath.Rel(localTopOutdir, smp.Outdir)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, errors.Errorf("%s is not below %s", smp.Outdir, localTopOutdir)
		}
		ids = append(ids, filepath.ToSlash(rel))
	}
	return ids, nil
}

// WriteScript renders transfer_scripts/transfer.<timestamp>.sh and makes
// it executable by its owner only.
func (t *Transferer) WriteScript(ids []string, now time.Time) (string, error) {
	jobName := "transfer." + now.Format(jobTimeFormat)
	dir := filepath.Join(t.LocalTopOutdir, ScriptDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", dir)
	}
	script := filepath.Join(dir, jobName+".sh")

	var sb strings.Builder
	if err := t.Template.Execute(&sb, scriptData{
		JobName:         jobName,
		Username:        t.Username,
		Hostname:        t.Hostname,
		GSMsToTransfer:  ids,
		LocalTopOutdir:  t.LocalTopOutdir,
		RemoteTopOutdir: t.RemoteTopOutdir,
	}); err != nil {
		return "", errors.Wrapf(err, "failed to render %s", script)
	}
	if err := os.WriteFile(script, []byte(sb.String()), 0700); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", script)
	}
	// WriteFile leaves the mode of an existing file alone.
	if err := os.Chmod(script, 0700); err != nil {
		return "", errors.Wrapf(err, "failed to chmod %s", script)
	}
	log.Infof("templated %s", script)
	return script, nil
}

// Transfer ships the samples.  The ledger is only appended when the
// script exits successfully.
func (t *Transferer) Transfer(ctx context.Context, samples []*sample.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	ids, err := IDs(samples, t.LocalTopOutdir)
	if err != nil {
		return err
	}
	now := t.clock()
	script, err := t.WriteScript(ids, now)
	if err != nil {
		return err
	}

	log.Infof("executing %s", script)
	if err := t.Executor.Execute(ctx, script); err != nil {
		return errors.Wrapf(err, "transfer script %s failed", script)
	}
	log.Infof("%d GSMs transferred to %s:%s", len(ids), t.Hostname, t.RemoteTopOutdir)
	return t.Ledger.Append(ids, now)
}
