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

// Package pipeline runs the per-sample processing stages: download the
// SRA archives, convert them to fastq.gz, then either template a qsub
// script for the remote cluster or run rsem locally.  Every stage leaves
// a flag file behind so a later pass skips what is already done.
package pipeline

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/rsempipeline/completion"
	"github.com/pelicanplatform/rsempipeline/param"
	"github.com/pelicanplatform/rsempipeline/sample"
	"github.com/pelicanplatform/rsempipeline/sra_info"
)

type Task string

const (
	TaskDownload      Task = "download"
	TaskSra2Fastq     Task = "sra2fastq"
	TaskGenQsubScript Task = "gen_qsub_script"
	TaskRsem          Task = "rsem"
)

var allTasks = []Task{TaskDownload, TaskSra2Fastq, TaskGenQsubScript, TaskRsem}

func ParseTask(name string) (Task, error) {
	for _, t := range allTasks {
		if string(t) == name {
			return t, nil
		}
	}
	return "", errors.Errorf("unknown task %q; must be one of download, sra2fastq, gen_qsub_script or rsem", name)
}

// FinalFlag is the completion marker of the last stage of a run that
// targets t.
func (t Task) FinalFlag() string {
	if t == TaskRsem {
		return completion.RsemFlag
	}
	return completion.QsubScript
}

// chain lists the stages a run targeting t goes through.
func (t Task) chain() []Task {
	switch t {
	case TaskDownload:
		return []Task{TaskDownload}
	case TaskSra2Fastq:
		return []Task{TaskDownload, TaskSra2Fastq}
	}
	return []Task{TaskDownload, TaskSra2Fastq, t}
}

type Options struct {
	Target Task
	// Jobs is the number of samples processed concurrently.
	Jobs int
	// JRsem is the number of threads handed to rsem; 0 means one per SRA.
	JRsem int
	// Debug prints the commands instead of running them.
	Debug        bool
	QsubTemplate string
	Executor     Executor
}

type Stats struct {
	Succeeded atomic.Int64
	Failed    atomic.Int64
	Commands  atomic.Int64
}

type Pipeline struct {
	Options

	Config *param.Config
	Stats  Stats

	ascp      *template.Template
	wget      *template.Template
	fastqDump *template.Template
	rsem      *template.Template
	qsub      *template.Template
}

// New checks that every command the target needs is configured and
// parses the command templates.
func New(cfg *param.Config, opts Options) (*Pipeline, error) {
	if opts.Target == "" {
		opts.Target = TaskGenQsubScript
	}
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	p := &Pipeline{Options: opts, Config: cfg}

	var err error
	if cfg.Cmd.Ascp != "" {
		if p.ascp, err = parseTemplate(param.Cmd_Ascp.GetName(), cfg.Cmd.Ascp); err != nil {
			return nil, err
		}
	}
	if cfg.Cmd.Wget == "" {
		return nil, errors.Errorf("%s must be set", param.Cmd_Wget.GetName())
	}
	if p.wget, err = parseTemplate(param.Cmd_Wget.GetName(), cfg.Cmd.Wget); err != nil {
		return nil, err
	}
	if cfg.Cmd.FastqDump == "" {
		return nil, errors.Errorf("%s must be set", param.Cmd_FastqDump.GetName())
	}
	if p.fastqDump, err = parseTemplate(param.Cmd_FastqDump.GetName(), cfg.Cmd.FastqDump); err != nil {
		return nil, err
	}

	switch opts.Target {
	case TaskGenQsubScript:
		if len(cfg.RemoteReferenceNames) == 0 {
			return nil, errors.Errorf("%s must be set to generate qsub scripts", param.RemoteReferenceNames.GetName())
		}
		if p.qsub, err = LoadQsubTemplate(opts.QsubTemplate); err != nil {
			return nil, err
		}
	case TaskRsem:
		if cfg.Cmd.Rsem == "" {
			return nil, errors.Errorf("%s must be set to run rsem locally", param.Cmd_Rsem.GetName())
		}
		if len(cfg.LocalReferenceNames) == 0 {
			return nil, errors.Errorf("%s must be set to run rsem locally", param.LocalReferenceNames.GetName())
		}
		if p.rsem, err = parseTemplate(param.Cmd_Rsem.GetName(), cfg.Cmd.Rsem); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pipeline) executor() Executor {
	if p.Executor == nil {
		return BashExecutor{}
	}
	return p.Executor
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Run processes the samples, at most Jobs at a time.  A failing sample
// does not stop the others; the returned error reports how many failed.
func (p *Pipeline) Run(ctx context.Context, samples []*sample.Sample) error {
	var g errgroup.Group
	g.SetLimit(p.Jobs)
	for _, smp := range samples {
		smp := smp
		g.Go(func() error {
			if err := p.processSample(ctx, smp); err != nil {
				p.Stats.Failed.Inc()
				log.Errorf("%s: %v", smp, err)
				return nil
			}
			p.Stats.Succeeded.Inc()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if failed := p.Stats.Failed.Load(); failed > 0 {
		return errors.Errorf("%d of %d samples failed; see the log for details", failed, len(samples))
	}
	return nil
}

func (p *Pipeline) processSample(ctx context.Context, smp *sample.Sample) error {
	if smp.Outdir == "" {
		return errors.Errorf("outdir of %s is not initialized", smp)
	}
	info, err := sra_info.Read(smp.Outdir)
	if err != nil {
		return err
	}
	for _, task := range p.Target.chain() {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch task {
		case TaskDownload:
			err = p.download(ctx, smp, info)
		case TaskSra2Fastq:
			err = p.sra2fastq(ctx, smp, info)
		case TaskGenQsubScript:
			err = p.genQsubScript(smp)
		case TaskRsem:
			err = p.runRsem(ctx, smp)
		}
		if err != nil {
			return errors.Wrapf(err, "%s", task)
		}
	}
	return nil
}

// sraURLPath appends the last two components of the archive path
// (<SRR>/<SRR>.sra) to the url path of the sample.
func sraURLPath(sampleURL, rel string) (string, error) {
	u, err := url.Parse(sampleURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid sample url %s", sampleURL)
	}
	parts := strings.Split(rel, "/")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return path.Join(append([]string{u.Path}, parts...)...), nil
}

func (p *Pipeline) download(ctx context.Context, smp *sample.Sample, info sra_info.Info) error {
	msgID := smp.String()
	for _, rel := range info.SRAFiles() {
		if err := ctx.Err(); err != nil {
			return err
		}
		sra := filepath.Join(smp.Outdir, filepath.FromSlash(rel))
		flag := filepath.Join(smp.Outdir, path.Base(rel)+completion.DownloadFlagSuffix)
		if exists(flag) {
			log.Debugf("%s already downloaded", sra)
			continue
		}
		sraDir := filepath.Dir(sra)
		if err := os.MkdirAll(sraDir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create %s", sraDir)
		}
		urlPath, err := sraURLPath(smp.URL, rel)
		if err != nil {
			return err
		}
		data := downloadData{LogDir: sraDir, URLPath: urlPath, OutputDir: sraDir}

		if p.ascp != nil {
			cmd, err := render(p.ascp, data)
			if err != nil {
				return err
			}
			if err := p.execute(ctx, msgID, cmd, flag); err == nil {
				continue
			}
			log.Warningf("%s: ascp failed for %s, trying wget", msgID, sra)
		}
		cmd, err := render(p.wget, data)
		if err != nil {
			return err
		}
		if err := p.execute(ctx, msgID, cmd, flag); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) sra2fastq(ctx context.Context, smp *sample.Sample, info sra_info.Info) error {
	msgID := smp.String()
	for _, rel := range info.SRAFiles() {
		if err := ctx.Err(); err != nil {
			return err
		}
		flag := filepath.Join(smp.Outdir, path.Base(rel)+completion.Sra2FastqFlagSuffix)
		if exists(flag) {
			log.Debugf("%s already converted to fastq", rel)
			continue
		}
		cmd, err := render(p.fastqDump, fastqDumpData{
			OutputDir: smp.Outdir,
			Accession: filepath.Join(smp.Outdir, filepath.FromSlash(rel)),
		})
		if err != nil {
			return err
		}
		if err := p.execute(ctx, msgID, cmd, flag); err != nil {
			return err
		}
	}
	return nil
}

func fastqGzs(outdir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(outdir, "*.fastq.gz"))
	return files, errors.Wrapf(err, "failed to list fastq.gz files in %s", outdir)
}

// baseRsemData fills in everything but the input argument and reference.
func (p *Pipeline) baseRsemData(smp *sample.Sample) rsemData {
	return rsemData{
		GSE:       smp.SeriesName(),
		Species:   sample.OrganismDir(smp.Organism),
		GSM:       smp.Name,
		Outdir:    smp.Outdir,
		NJobs:     DecideNumJobs(smp.Outdir, p.JRsem),
		OutputDir: smp.Outdir,
	}
}

func referenceName(refs map[string]string, species, key string) (string, error) {
	ref, ok := refs[species]
	if !ok {
		return "", errors.Errorf("no reference configured for %s in %s", species, key)
	}
	return ref, nil
}

func (p *Pipeline) genQsubScript(smp *sample.Sample) error {
	script := filepath.Join(smp.Outdir, completion.QsubScript)
	if exists(script) {
		log.Debugf("%s already exists", script)
		return nil
	}
	files, err := fastqGzs(smp.Outdir)
	if err != nil {
		return err
	}
	// 0_submit.sh is executed in the sample outdir.
	for i := range files {
		files[i] = filepath.Base(files[i])
	}

	data := p.baseRsemData(smp)
	data.FastqGzInput = GenFastqGzInput(files)
	if data.FastqGzInput == "" {
		if p.Debug {
			log.Warningf("no fastq.gz in %s yet; not templating %s", smp.Outdir, script)
			return nil
		}
		return errors.Errorf("no fastq.gz found in %s", smp.Outdir)
	}
	if data.ReferenceName, err = referenceName(p.Config.RemoteReferenceNames, data.Species, param.RemoteReferenceNames.GetName()); err != nil {
		return err
	}
	data.SampleName = smp.Name

	content, err := render(p.qsub, data)
	if err != nil {
		return err
	}
	if p.Debug {
		log.Infof("would template %s", script)
		return nil
	}
	if err := os.WriteFile(script, []byte(content), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", script)
	}
	log.Infof("templated %s", script)
	return nil
}

func (p *Pipeline) runRsem(ctx context.Context, smp *sample.Sample) error {
	flag := filepath.Join(smp.Outdir, completion.RsemFlag)
	if exists(flag) {
		log.Debugf("rsem already completed for %s", smp.Outdir)
		return nil
	}
	files, err := fastqGzs(smp.Outdir)
	if err != nil {
		return err
	}

	data := p.baseRsemData(smp)
	data.FastqGzInput = GenFastqGzInput(files)
	if data.FastqGzInput == "" && !p.Debug {
		return errors.Errorf("no fastq.gz found in %s", smp.Outdir)
	}
	if data.ReferenceName, err = referenceName(p.Config.LocalReferenceNames, data.Species, param.LocalReferenceNames.GetName()); err != nil {
		return err
	}
	data.SampleName = filepath.Join(smp.Outdir, smp.Name)

	cmd, err := render(p.rsem, data)
	if err != nil {
		return err
	}
	return p.execute(ctx, smp.String(), cmd, flag)
}
