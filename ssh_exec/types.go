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

// Package ssh_exec runs shell commands on the remote cluster over SSH, and
// on the local host through the same Runner interface.
package ssh_exec

import (
	"context"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/pelicanplatform/rsempipeline/param"
)

const (
	DefaultPort           = 22
	DefaultConnectTimeout = 30 * time.Second
)

// Runner runs one shell command line and returns its trimmed stdout.
type Runner interface {
	Run(ctx context.Context, cmd string) (string, error)
}

// Config describes how to reach the remote host.
type Config struct {
	Host string
	Port int
	User string

	// PrivateKeyFile is tried first; the SSH agent named by SSH_AUTH_SOCK
	// is used in addition when available.
	PrivateKeyFile string

	// KnownHostsFile defaults to ~/.ssh/known_hosts.
	KnownHostsFile string

	// AutoAddHostKey accepts and records unknown host keys.
	AutoAddHostKey bool

	ConnectTimeout time.Duration
}

// ResolveUser returns name, or the local login name when name is empty.
func ResolveUser(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", errors.Wrap(err, "failed to determine the local user name")
	}
	return u.Username, nil
}

// ConfigFromParams builds a Config from the Remote.* settings.  An unset
// user falls back to the local login name.
func ConfigFromParams(cfg *param.Config) (*Config, error) {
	if cfg == nil {
		return nil, errors.New("no configuration")
	}
	c := &Config{
		Host:           cfg.Remote.Host,
		Port:           cfg.Remote.Port,
		User:           cfg.Remote.User,
		PrivateKeyFile: cfg.Remote.PrivateKeyFile,
		KnownHostsFile: cfg.Remote.KnownHostsFile,
		AutoAddHostKey: cfg.Remote.AutoAddHostKey,
	}
	username, err := ResolveUser(c.User)
	if err != nil {
		return nil, err
	}
	c.User = username
	return c, c.Validate()
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("SSH host is required")
	}
	if c.User == "" {
		return errors.New("SSH user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("invalid SSH port %d", c.Port)
	}
	if c.PrivateKeyFile != "" {
		if _, err := os.Stat(c.PrivateKeyFile); err != nil {
			return errors.Wrap(err, "private key file is not readable")
		}
	}
	return nil
}

// Connection is one SSH client connection.  Commands run in separate
// sessions and may run concurrently.
type Connection struct {
	config *Config

	mu     sync.Mutex
	client *ssh.Client
}

func NewConnection(config *Config) *Connection {
	return &Connection{config: config}
}

func (c *Connection) port() int {
	if c.config.Port == 0 {
		return DefaultPort
	}
	return c.config.Port
}
