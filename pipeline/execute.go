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
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Executor runs one shell command to completion.
type Executor interface {
	Execute(ctx context.Context, cmd string) error
}

// BashExecutor runs commands through /bin/bash -c and forwards their
// stdout and stderr into the log line by line.
type BashExecutor struct{}

func (BashExecutor) Execute(ctx context.Context, cmd string) error {
	c := exec.CommandContext(ctx, "/bin/bash", "-c", cmd)
	stdout := log.WithField("stream", "stdout").WriterLevel(log.InfoLevel)
	defer stdout.Close()
	stderr := log.WithField("stream", "stderr").WriterLevel(log.InfoLevel)
	defer stderr.Close()
	c.Stdout = stdout
	c.Stderr = stderr
	return c.Run()
}

// Touch appends a small provenance record to flagFile, creating it if
// needed.
func Touch(flagFile string, now time.Time) error {
	f, err := os.OpenFile(flagFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to touch %s", flagFile)
	}
	cwd, _ := os.Getwd()
	_, err = fmt.Fprintf(f, "created: %s\nlocation of code execution: %s\n", now.Format("2006-01-02 15:04:05.000000"), cwd)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "failed to write %s", flagFile)
}

// execute logs cmd and, unless in debug mode, runs it and touches
// flagFile on success.
func (p *Pipeline) execute(ctx context.Context, msgID, cmd, flagFile string) error {
	log.Infof("executing CMD: %s", cmd)
	if p.Debug {
		return nil
	}
	p.Stats.Commands.Inc()
	if err := p.executor().Execute(ctx, cmd); err != nil {
		log.Errorf("%s: started, but failed to finish: %v. CMD: %q", msgID, err, cmd)
		return errors.Wrapf(err, "%s: command failed", msgID)
	}
	log.Infof("%s: execution succeeded. CMD: %q", msgID, cmd)
	if flagFile == "" {
		return nil
	}
	return Touch(flagFile, time.Now())
}
