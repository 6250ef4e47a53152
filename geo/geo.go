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

// Package geo prepares the interested samples list: it downloads the GEO
// page of every GSM, extracts its organism, and writes
// GSE_species_GSM.csv for the run and transfer flows.
package geo

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/grafana/regexp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/pelicanplatform/rsempipeline/isamp"
)

const (
	DefaultBaseURL = "https://www.ncbi.nlm.nih.gov/geo/query/acc.cgi?acc="

	HTMLDir      = "html"
	SpeciesCSV   = "GSE_species_GSM.csv"
	NoSpeciesCSV = "GSE_no_species_GSM.csv"
)

var organismRegex = regexp.MustCompile(`Organism|Organisms`)

func newClient() *grab.Client {
	client := grab.NewClient()
	client.HTTPClient.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          30,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return client
}

// Generator looks up the species of GSMs.  Pages already downloaded
// under <OutDir>/html/<GSE>/<GSM>.html are reused.
type Generator struct {
	OutDir  string
	BaseURL string
	Threads int

	client *grab.Client
}

func NewGenerator(outDir string, threads int) *Generator {
	return &Generator{OutDir: outDir, BaseURL: DefaultBaseURL, Threads: threads, client: newClient()}
}

func (g *Generator) htmlPath(gse, gsm string) string {
	return filepath.Join(g.OutDir, HTMLDir, gse, gsm+".html")
}

// fetchHTML downloads the page of gsm unless it is already there.
func (g *Generator) fetchHTML(ctx context.Context, gse, gsm string) (string, error) {
	out := g.htmlPath(gse, gsm)
	if _, err := os.Stat(out); err == nil {
		log.Infof("%s already downloaded", out)
		return out, nil
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", filepath.Dir(out))
	}
	log.Infof("downloading %s", out)
	req, err := grab.NewRequest(out, g.BaseURL+gsm)
	if err != nil {
		return "", errors.Wrapf(err, "invalid url for %s", gsm)
	}
	req = req.WithContext(ctx)
	resp := g.client.Do(req)
	if err := resp.Err(); err != nil {
		_ = os.Remove(out)
		return "", errors.Wrapf(err, "failed to download %s", gsm)
	}
	return out, nil
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// ownText is the text of n when it is a lone text node, which is what the
// organism label cell looks like.
func ownText(n *html.Node) (string, bool) {
	if n.FirstChild == nil || n.FirstChild != n.LastChild || n.FirstChild.Type != html.TextNode {
		return "", false
	}
	return n.FirstChild.Data, true
}

func nextElementSibling(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// FindSpecies returns the content of the cell that follows the first
// "Organism" label cell, or "" when the page has none (private samples).
func FindSpecies(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse html")
	}
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Td {
			if label, ok := ownText(n); ok && organismRegex.MatchString(label) {
				found = n
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil {
		return "", nil
	}
	value := nextElementSibling(found)
	if value == nil {
		return "", nil
	}
	return strings.TrimSpace(text(value)), nil
}

func (g *Generator) findSpecies(ctx context.Context, gse, gsm string) (string, error) {
	page, err := g.fetchHTML(ctx, gse, gsm)
	if err != nil {
		return "", err
	}
	f, err := os.Open(page)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", page)
	}
	defer f.Close()
	return FindSpecies(f)
}

// Generate finds the species of every pair.  Rows whose species cannot be
// determined are returned separately.
func (g *Generator) Generate(ctx context.Context, pairs []isamp.Pair) (rows, noSpecies []isamp.Row, err error) {
	if g.client == nil {
		g.client = newClient()
	}
	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	if g.Threads > 0 {
		eg.SetLimit(g.Threads)
	}
	for _, pair := range pairs {
		pair := pair
		eg.Go(func() error {
			species, err := g.findSpecies(ctx, pair.GSE, pair.GSM)
			if err != nil {
				return err
			}
			row := isamp.Row{GSE: pair.GSE, Species: species, GSM: pair.GSM}
			mu.Lock()
			defer mu.Unlock()
			if species == "" {
				log.Warnf("no species found for %s of %s", pair.GSM, pair.GSE)
				noSpecies = append(noSpecies, row)
			} else {
				rows = append(rows, row)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return rows, noSpecies, nil
}

// BackupFile renames f to #f.n#, n being the first unused number, and
// returns the new name.  A missing f is left alone and yields "".
func BackupFile(f string) (string, error) {
	if _, err := os.Stat(f); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "cannot back up %s", f)
	}
	dir, base := filepath.Split(f)
	for n := 1; ; n++ {
		to := filepath.Join(dir, fmt.Sprintf("#%s.%d#", base, n))
		if _, err := os.Stat(to); os.IsNotExist(err) {
			log.Infof("Backing up %s to %s", f, to)
			return to, errors.Wrapf(os.Rename(f, to), "failed to back up %s", f)
		}
	}
}

func writeCSV(file string, rows []isamp.Row) error {
	if _, err := BackupFile(file); err != nil {
		return err
	}
	f, err := os.Create(file)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", file)
	}
	if err := isamp.WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	log.Infof("%d rows written to %s", len(rows), file)
	return errors.Wrapf(f.Close(), "failed to close %s", file)
}

// WriteOutputs writes GSE_species_GSM.csv and, when some species are
// unknown, GSE_no_species_GSM.csv, backing up previous versions.
func (g *Generator) WriteOutputs(rows, noSpecies []isamp.Row) error {
	if err := writeCSV(filepath.Join(g.OutDir, SpeciesCSV), rows); err != nil {
		return err
	}
	if len(noSpecies) == 0 {
		return nil
	}
	return writeCSV(filepath.Join(g.OutDir, NoSpeciesCSV), noSpecies)
}
