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
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

//go:embed resources/qsub.sh
var defaultQsubTemplate string

// Data available to the command templates (Cmd.*) and the qsub template.
type (
	downloadData struct {
		LogDir    string
		URLPath   string
		OutputDir string
	}

	fastqDumpData struct {
		OutputDir string
		Accession string
	}

	rsemData struct {
		GSE           string
		Species       string
		GSM           string
		Outdir        string
		NJobs         int
		FastqGzInput  string
		ReferenceName string
		SampleName    string
		OutputDir     string
	}
)

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid template %s", name)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrapf(err, "failed to render %s", tmpl.Name())
	}
	return sb.String(), nil
}

// LoadQsubTemplate reads the qsub template at path, or returns the
// built-in one when path is empty.
func LoadQsubTemplate(path string) (*template.Template, error) {
	if path == "" {
		return parseTemplate("qsub.sh", defaultQsubTemplate)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read qsub template %s", path)
	}
	return parseTemplate(filepath.Base(path), string(text))
}
