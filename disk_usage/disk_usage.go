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

// Package disk_usage measures free and used space on the local host and
// on the remote cluster.
package disk_usage

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
	"github.com/pkg/xattr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pelicanplatform/rsempipeline/completion"
	"github.com/pelicanplatform/rsempipeline/ssh_exec"
)

var ErrProbeUnavailable = errors.New("disk probe unavailable")

// Probe reports byte counts for one directory tree on one host.
type Probe interface {
	FreeSpace(ctx context.Context) (uint64, error)
	UsedSpace(ctx context.Context) (uint64, error)
}

func unavailable(host, dir, cmd string) error {
	return errors.Wrapf(ErrProbeUnavailable, "%s on %s:%s printed nothing", cmd, host, dir)
}

// probeFailed marks a failed probe command, e.g. an unreachable host or a
// missing path, as ErrProbeUnavailable.  Cancellation is passed through.
func probeFailed(ctx context.Context, host, dir, cmd string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return errors.Wrapf(ErrProbeUnavailable, "%s on %s:%s: %v", cmd, host, dir, err)
}

// ParseDfOutput reads the available column of `df -k -P`, e.g.
//
//	Filesystem 1024-blocks Used Available Capacity Mounted on
//	/dev/analysis 16106127360 12607690752 3498436608 79% /extscratch
func ParseDfOutput(out string) (uint64, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, errors.Errorf("unexpected df output %q", out)
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 4 {
		return 0, errors.Errorf("unexpected df output line %q", lines[1])
	}
	kib, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid available size in df output %q", lines[1])
	}
	return kib * 1024, nil
}

// ParseDuOutput reads `du -s`, e.g. "3096\t/path/to/top_outdir".
func ParseDuOutput(out string) (uint64, error) {
	line := strings.SplitN(strings.TrimSpace(out), "\n", 2)[0]
	field := strings.SplitN(line, "\t", 2)[0]
	kib, err := strconv.ParseUint(strings.TrimSpace(field), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "unexpected du output %q", out)
	}
	return kib * 1024, nil
}

// LocalProbe measures the local top outdir.
type LocalProbe struct {
	DfCommand string
	Dir       string

	// Runner defaults to ssh_exec.LocalRunner.
	Runner ssh_exec.Runner
	// Limiter, if set, throttles the directory walk.
	Limiter *rate.Limiter
}

func (p *LocalProbe) runner() ssh_exec.Runner {
	if p.Runner == nil {
		return ssh_exec.LocalRunner{}
	}
	return p.Runner
}

func (p *LocalProbe) FreeSpace(ctx context.Context) (uint64, error) {
	out, err := p.runner().Run(ctx, p.DfCommand)
	if err != nil {
		return 0, probeFailed(ctx, "localhost", p.Dir, p.DfCommand, err)
	}
	if out == "" {
		return 0, unavailable("localhost", p.Dir, p.DfCommand)
	}
	return ParseDfOutput(out)
}

// cephRecursiveBytes reads the recursive size CephFS keeps on directories.
func cephRecursiveBytes(dir string) (uint64, bool) {
	data, err := xattr.Get(dir, "ceph.dir.rbytes")
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		log.Debugf("Failed to parse ceph.dir.rbytes value %q of %s: %v", data, dir, err)
		return 0, false
	}
	return n, true
}

// UsedSpace sums the sizes of regular files below Dir.
func (p *LocalProbe) UsedSpace(ctx context.Context) (uint64, error) {
	if n, ok := cephRecursiveBytes(p.Dir); ok {
		return n, nil
	}

	var total uint64
	err := filepath.WalkDir(p.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.Dir {
				return err
			}
			log.Warnf("Error accessing %s: %v", path, err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			log.Warnf("Error getting info for %s: %v", path, err)
			return nil
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to compute usage of %s", p.Dir)
	}
	return total, nil
}

// RemoteProbe measures the remote top outdir over a Runner.
type RemoteProbe struct {
	Runner    ssh_exec.Runner
	Host      string
	DfCommand string
	Dir       string
}

func (p *RemoteProbe) FreeSpace(ctx context.Context) (uint64, error) {
	out, err := p.Runner.Run(ctx, p.DfCommand)
	if err != nil {
		return 0, probeFailed(ctx, p.Host, p.Dir, p.DfCommand, err)
	}
	if out == "" {
		return 0, unavailable(p.Host, p.Dir, p.DfCommand)
	}
	return ParseDfOutput(out)
}

// RealUsedSpace is what du reports for the remote top outdir.
func (p *RemoteProbe) RealUsedSpace(ctx context.Context) (uint64, error) {
	out, err := ssh_exec.RunArgs(ctx, p.Runner, "du", "-s", p.Dir)
	if err != nil {
		return 0, probeFailed(ctx, p.Host, p.Dir, "du -s", err)
	}
	if out == "" {
		return 0, unavailable(p.Host, p.Dir, "du -s")
	}
	return ParseDuOutput(out)
}

func (p *RemoteProbe) UsedSpace(ctx context.Context) (uint64, error) {
	return p.RealUsedSpace(ctx)
}

// ListTree returns every path below Dir, Dir included.
func (p *RemoteProbe) ListTree(ctx context.Context) ([]string, error) {
	out, err := ssh_exec.RunArgs(ctx, p.Runner, "find", p.Dir)
	if err != nil {
		return nil, probeFailed(ctx, p.Host, p.Dir, "find", err)
	}
	if out == "" {
		return nil, unavailable(p.Host, p.Dir, "find")
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

var gsmDirRegex = regexp.MustCompile(`GSM\d+$`)

// isEmptyDir reports whether dir is the only listed path at or below dir.
func isEmptyDir(dir string, listed []string) bool {
	n := 0
	for _, p := range listed {
		if p == dir || strings.HasPrefix(p, dir+"/") {
			n++
		}
	}
	return n == 1
}

// EstimateRemoteUsage adds up the estimated footprint of every GSM
// directory on the remote host that holds data but has not finished rsem.
// The estimate is taken from the matching local directory, found by
// swapping the remote top outdir for the local one.
func EstimateRemoteUsage(paths []string, remoteTop, localTop string, estimate func(localGSMDir string) (float64, error)) (float64, error) {
	listed := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		listed[p] = struct{}{}
	}
	remoteTop = strings.TrimSuffix(remoteTop, "/")

	var usage float64
	for _, dir := range paths {
		if !gsmDirRegex.MatchString(path.Base(dir)) {
			continue
		}
		if _, done := listed[path.Join(dir, completion.RsemFlag)]; done {
			continue
		}
		if isEmptyDir(dir, paths) {
			continue
		}
		rel := strings.TrimPrefix(dir, remoteTop)
		if rel == dir {
			log.Warnf("%s is not below the remote top outdir %s; ignored", dir, remoteTop)
			continue
		}
		localDir := filepath.Join(localTop, filepath.FromSlash(rel))
		est, err := estimate(localDir)
		if err != nil {
			return 0, errors.Wrapf(err, "cannot estimate usage of %s", dir)
		}
		usage += est
	}
	return usage, nil
}
