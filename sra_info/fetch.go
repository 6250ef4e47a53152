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

package sra_info

import (
	"context"
	"io"
	"net"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/pelicanplatform/rsempipeline/sample"
)

// Fetcher retrieves the archive list of one sample from its source.
type Fetcher interface {
	Fetch(ctx context.Context, smp *sample.Sample) (Info, error)
}

// ftpConn is the subset of *ftp.ServerConn used for listing archives.
type ftpConn interface {
	ChangeDir(path string) error
	NameList(path string) ([]string, error)
	FileSize(path string) (int64, error)
	Quit() error
}

// FTPFetcher lists archives over a single anonymous FTP session, as the
// NCBI sra-instant tree is laid out as <...>/SRX/<SRX>/<SRR>/<SRR>.sra.
type FTPFetcher struct {
	conn ftpConn
}

// DialFTP connects anonymously to the host named in sampleURL.
func DialFTP(ctx context.Context, sampleURL string, timeout time.Duration) (*FTPFetcher, error) {
	u, err := url.Parse(sampleURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid sample url %s", sampleURL)
	}
	if u.Scheme != "ftp" {
		return nil, errors.Errorf("sample url %s is not an ftp url", sampleURL)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "21")
	}
	log.Infof("Connecting to %s://%s", u.Scheme, u.Host)
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", addr)
	}
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		_ = conn.Quit()
		return nil, errors.Wrapf(err, "anonymous login to %s failed", addr)
	}
	return &FTPFetcher{conn: conn}, nil
}

// under returns name as a path below dir; some servers list bare names
// while others prefix them with the listed directory.
func under(dir, name string) string {
	if strings.HasPrefix(name, dir+"/") {
		return name
	}
	return path.Join(dir, path.Base(name))
}

// Fetch lists the SRR directories below the sample's SRX directory and
// the archives inside each, with their sizes in bytes.
func (f *FTPFetcher) Fetch(ctx context.Context, smp *sample.Sample) (Info, error) {
	u, err := url.Parse(smp.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url for %s", smp)
	}
	srxParent, srx := path.Split(strings.TrimSuffix(u.Path, "/"))
	if err := f.conn.ChangeDir(srxParent); err != nil {
		return nil, errors.Wrapf(err, "cannot change to %s", srxParent)
	}

	srrs, err := f.conn.NameList(srx)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list %s", srx)
	}

	var info Info
	for _, srr := range srrs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		srr = under(srx, srr)
		sras, err := f.conn.NameList(srr)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot list %s", srr)
		}
		for _, sra := range sras {
			sra = under(srr, sra)
			size, err := f.conn.FileSize(sra)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot get size of %s", sra)
			}
			info = append(info, NewEntry(sra, size))
		}
	}
	return info, nil
}

func (f *FTPFetcher) Close() error {
	return f.conn.Quit()
}

// FetchAll writes sras_info.yaml for every sample that lacks one (or for
// all of them when recreate is set).  A sample whose listing fails is
// logged and left without metadata; the schedulers skip it later.
// Progress is rendered to progress when it is non-nil.
func FetchAll(ctx context.Context, fetcher Fetcher, samples []*sample.Sample, recreate bool, progress io.Writer) (int, error) {
	p := mpb.NewWithContext(ctx, mpb.WithOutput(progress), mpb.WithWidth(60))
	bar := p.AddBar(int64(len(samples)),
		mpb.PrependDecorators(
			decor.Name("sras info", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	defer func() {
		if !bar.Completed() {
			bar.Abort(false)
		}
		p.Wait()
	}()

	fetched := 0
	for idx, smp := range samples {
		if ctx.Err() != nil {
			return fetched, ctx.Err()
		}
		if smp.Outdir == "" {
			return fetched, errors.Errorf("outdir of %s has not been initialized", smp)
		}
		if Exists(smp.Outdir) && !recreate {
			bar.Increment()
			continue
		}
		log.Infof("(%d/%d) fetching sras info from FTP for %s, saving to %s",
			idx+1, len(samples), smp, Path(smp.Outdir))
		info, err := fetcher.Fetch(ctx, smp)
		if err != nil {
			log.Errorf("Failed to fetch sras info for %s: %v", smp, err)
			bar.Increment()
			continue
		}
		if err := Write(smp.Outdir, info); err != nil {
			return fetched, err
		}
		fetched++
		bar.Increment()
	}
	return fetched, nil
}
