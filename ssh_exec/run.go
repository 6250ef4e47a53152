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

package ssh_exec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const signalEscalationTimeout = 3 * time.Second

// terminateSession sends SIGTERM and escalates to SIGKILL if the remote
// process does not exit in time.
func terminateSession(session *ssh.Session, done <-chan error) {
	if err := session.Signal(ssh.SIGTERM); err != nil {
		log.Debugf("Failed to send SIGTERM: %v", err)
	}
	select {
	case <-done:
	case <-time.After(signalEscalationTimeout):
		log.Debugf("Remote process did not exit after SIGTERM, sending SIGKILL")
		if err := session.Signal(ssh.SIGKILL); err != nil {
			log.Debugf("Failed to send SIGKILL: %v", err)
		}
	}
}

// Run executes cmd through the remote user's shell.
func (c *Connection) Run(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return "", errors.New("SSH connection is not established")
	}

	session, err := client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "failed to create SSH session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	log.Debugf("Running on %s: %s", c.config.Host, cmd)
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		terminateSession(session, done)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", errors.Wrapf(err, "command failed on %s: %s (stderr: %s)",
				c.config.Host, cmd, strings.TrimSpace(stderr.String()))
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunArgs quotes each argument before running the command line.
func RunArgs(ctx context.Context, r Runner, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no command provided")
	}
	return r.Run(ctx, shellquote.Join(args...))
}

// LocalRunner runs command lines with /bin/bash on this host.
type LocalRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string
}

func (l LocalRunner) Run(ctx context.Context, cmd string) (string, error) {
	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, "/bin/bash", "-c", cmd)
	c.Dir = l.Dir
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return "", errors.Wrapf(err, "command failed: %s (stderr: %s)", cmd, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
