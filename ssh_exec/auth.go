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
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshDialContext dials an SSH server; the handshake is abandoned when ctx
// is cancelled.
func sshDialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		if err != nil {
			conn.Close()
			done <- result{nil, err}
			return
		}
		done <- result{ssh.NewClient(c, chans, reqs), nil}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	case r := <-done:
		return r.client, r.err
	}
}

// defaultKeyFiles are tried when no private key is configured.
var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

func (c *Connection) buildAuthMethods(ctx context.Context) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	keyFile := c.config.PrivateKeyFile
	if keyFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			for _, name := range defaultKeyFiles {
				candidate := filepath.Join(home, ".ssh", name)
				if _, err := os.Stat(candidate); err == nil {
					keyFile = candidate
					break
				}
			}
		}
	}
	if keyFile != "" {
		auth, err := buildPublicKeyAuth(keyFile)
		if err != nil {
			log.Warnf("Failed to build public key auth from %s: %v", keyFile, err)
		} else {
			methods = append(methods, auth)
		}
	}

	if auth, err := buildAgentAuth(ctx); err != nil {
		log.Debugf("SSH agent auth unavailable: %v", err)
	} else {
		methods = append(methods, auth)
	}

	if len(methods) == 0 {
		return nil, errors.New("no usable SSH authentication method; configure Remote.PrivateKeyFile or start an SSH agent")
	}
	return methods, nil
}

func buildPublicKeyAuth(keyFile string) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read private key file")
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		if _, ok := err.(*ssh.PassphraseMissingError); ok {
			return nil, errors.New("private key is encrypted; load it into an SSH agent instead")
		}
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	return ssh.PublicKeys(signer), nil
}

func buildAgentAuth(ctx context.Context) (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK environment variable not set")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to SSH agent")
	}
	agentClient := agent.NewClient(conn)
	keys, err := agentClient.List()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to list SSH agent keys")
	}
	log.Debugf("SSH agent at %s has %d key(s) available", socket, len(keys))
	return ssh.PublicKeysCallback(agentClient.Signers), nil
}

func (c *Connection) getKnownHostsPath() (string, error) {
	if c.config.KnownHostsFile != "" {
		return c.config.KnownHostsFile, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(homeDir, ".ssh", "known_hosts"), nil
}

func (c *Connection) buildHostKeyCallback() (ssh.HostKeyCallback, error) {
	knownHostsPath, err := c.getKnownHostsPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		log.Warnf("Known hosts file %s does not exist; creating empty file", knownHostsPath)
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
			return nil, errors.Wrap(err, "failed to create .ssh directory")
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0600); err != nil {
			return nil, errors.Wrap(err, "failed to create known_hosts file")
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse known_hosts file")
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err == nil {
			return nil
		}
		if keyErr, ok := err.(*knownhosts.KeyError); ok && len(keyErr.Want) > 0 {
			log.Errorf("SSH host key mismatch for %s; server offered %s %s, known_hosts is %s",
				hostname, key.Type(), ssh.FingerprintSHA256(key), knownHostsPath)
			return errors.Wrapf(err, "SSH host key verification failed for %s: host key has changed", hostname)
		}
		if !c.config.AutoAddHostKey {
			log.Errorf("SSH host %s is not in %s; add it with: ssh-keyscan -H %s >> %s",
				hostname, knownHostsPath, c.config.Host, knownHostsPath)
			return errors.Wrapf(err, "SSH host %s is not in known_hosts file", hostname)
		}
		log.Warnf("SSH host %s is not in known_hosts; Remote.AutoAddHostKey is set, accepting key %s",
			hostname, ssh.FingerprintSHA256(key))
		if appendErr := appendToKnownHosts(knownHostsPath, hostname, key); appendErr != nil {
			return errors.Wrap(appendErr, "failed to add host key to known_hosts")
		}
		return nil
	}, nil
}

func appendToKnownHosts(knownHostsPath, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(knownHostsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrap(err, "failed to open known_hosts file")
	}
	defer f.Close()
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return errors.Wrap(err, "failed to write to known_hosts file")
	}
	return nil
}

// Connect establishes the SSH connection.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return errors.New("connection already established")
	}

	authMethods, err := c.buildAuthMethods(ctx)
	if err != nil {
		return err
	}
	hostKeyCallback, err := c.buildHostKeyCallback()
	if err != nil {
		return errors.Wrap(err, "failed to build host key callback")
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.ConnectTimeout,
	}
	if sshConfig.Timeout == 0 {
		sshConfig.Timeout = DefaultConnectTimeout
	}

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.port()))
	log.Debugf("Connecting to SSH server %s@%s", c.config.User, addr)
	client, err := sshDialContext(ctx, "tcp", addr, sshConfig)
	if err != nil {
		return errors.Wrapf(err, "failed to establish SSH connection to %s", addr)
	}
	c.client = client
	log.Debugf("SSH connection established to %s@%s", c.config.User, addr)
	return nil
}

// Close is safe to call on a connection that never connected.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return errors.Wrap(err, "failed to close SSH client")
}
