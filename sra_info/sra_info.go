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

// Package sra_info reads, writes and fetches the per-sample list of SRA
// archives (sras_info.yaml) that drives both footprint estimates and the
// completion checks.
package sra_info

import (
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pelicanplatform/rsempipeline/byte_size"
)

// FileName is the metadata file kept in every sample outdir.
const FileName = "sras_info.yaml"

// Entry describes one SRA archive.  Path is relative to the sample
// outdir, e.g. SRX029242/SRR070177/SRR070177.sra.
type Entry struct {
	Path         string
	Size         int64
	ReadableSize string
}

// Info is the ordered list of archives of one sample.
type Info []Entry

type entryDetails struct {
	Size         int64  `yaml:"size"`
	ReadableSize string `yaml:"readable_size,omitempty"`
}

// NewEntry fills in the readable size.
func NewEntry(relPath string, size int64) Entry {
	return Entry{Path: relPath, Size: size, ReadableSize: byte_size.FormatSize(float64(size))}
}

// MarshalYAML writes the entry as a single-key mapping,
// {<path>: {size: N, readable_size: S}}.
func (e Entry) MarshalYAML() (interface{}, error) {
	return map[string]entryDetails{
		e.Path: {Size: e.Size, ReadableSize: e.ReadableSize},
	}, nil
}

func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]entryDetails
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return errors.Errorf("line %d: expected exactly one sra per entry, found %d", node.Line, len(raw))
	}
	for p, details := range raw {
		if details.Size < 0 {
			return errors.Errorf("line %d: negative size for %s", node.Line, p)
		}
		e.Path = p
		e.Size = details.Size
		e.ReadableSize = details.ReadableSize
	}
	return nil
}

// TotalSize is the raw source size of the sample.
func (info Info) TotalSize() int64 {
	var total int64
	for _, entry := range info {
		total += entry.Size
	}
	return total
}

// SRAFiles returns the relative paths of all archives.
func (info Info) SRAFiles() []string {
	files := make([]string, 0, len(info))
	for _, entry := range info {
		files = append(files, entry.Path)
	}
	return files
}

// Basenames returns the archive file names, which the stage flag files
// are named after.
func (info Info) Basenames() []string {
	names := make([]string, 0, len(info))
	for _, entry := range info {
		names = append(names, path.Base(entry.Path))
	}
	return names
}

// Path returns the metadata file location for a sample outdir.
func Path(outdir string) string {
	return filepath.Join(outdir, FileName)
}

// Exists reports whether outdir already has metadata.
func Exists(outdir string) bool {
	_, err := os.Stat(Path(outdir))
	return err == nil
}

// Read loads the metadata of the sample in outdir.  A missing file
// yields an error matching os.ErrNotExist.
func Read(outdir string) (Info, error) {
	p := Path(outdir)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", p)
	}
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", p)
	}
	return info, nil
}

// Write stores info in outdir, replacing any previous file.
func Write(outdir string, info Info) error {
	data, err := yaml.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "failed to encode sras info")
	}
	p := Path(outdir)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, p), "failed to move %s into place", tmp)
}
