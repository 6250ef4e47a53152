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

// Package config loads rp_config.yml (or whatever --config names) into
// viper, applies defaults and environment overrides, and validates the
// result before any scheduling pass runs.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pelicanplatform/rsempipeline/logging"
	"github.com/pelicanplatform/rsempipeline/param"
)

const (
	EnvPrefix         = "RSEMPIPELINE"
	DefaultConfigFile = "rp_config.yml"
)

// SetDefaults installs the built-in value of every key that has one.
// The df commands are only defaulted when the matching top outdir is known.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(param.Ratio_SRA2Fastq.GetName(), 1.5)
	v.SetDefault(param.Ratio_Fastq2Usage.GetName(), 1.0)
	v.SetDefault(param.Remote_Port.GetName(), 22)
	v.SetDefault(param.Logging_Level.GetName(), "info")
	v.SetDefault(param.InterestedOrganisms.GetName(), []string{"Homo sapiens", "Mus musculus"})
	v.SetDefault(param.Cmd_Wget.GetName(), "wget ftp://ftp-trace.ncbi.nlm.nih.gov{{.URLPath}} -P {{.OutputDir}} -N")
	v.SetDefault(param.Cmd_FastqDump.GetName(), "fastq-dump --minReadLen 25 --gzip --split-files --outdir {{.OutputDir}} {{.Accession}}")

	if top := v.GetString(param.LocalTopOutdir.GetName()); top != "" {
		v.SetDefault(param.Local_CmdDf.GetName(), "df -k -P "+top)
	}
	if top := v.GetString(param.RemoteTopOutdir.GetName()); top != "" {
		v.SetDefault(param.Remote_CmdDf.GetName(), "df -k -P "+top)
	}
}

// Init reads the configuration file into the global viper instance and
// refreshes the decoded snapshot.  A missing file is only an error when
// the caller named it explicitly.
func Init(configFile string) error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.SetConfigType("yaml")

	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile
	}
	viper.SetConfigFile(configFile)

	if err := viper.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		notFound := errors.As(err, &pathErr) && os.IsNotExist(pathErr)
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			notFound = true
		}
		if !notFound || explicit {
			return errors.Wrapf(err, "failed to read configuration file %s", configFile)
		}
		log.Debugf("No configuration file found at %s; using defaults and environment", configFile)
	} else {
		log.Debugf("Read configuration from %s", viper.ConfigFileUsed())
	}

	SetDefaults(viper.GetViper())

	for _, key := range validateConfigKeys() {
		log.Warningf("Unknown configuration key %q; it will be ignored", key)
	}

	if _, err := param.Refresh(); err != nil {
		return errors.Wrap(err, "failed to decode configuration")
	}
	return nil
}

// InitConfig is the cobra initializer.  It loads the configuration named by
// --config and sets up logging; any failure ends the process.
func InitConfig() {
	if err := Init(viper.GetString("config")); err != nil {
		log.Fatalln(err)
	}
	if err := logging.SetupLogging(param.Logging_LogLocation.GetString(),
		param.Logging_Level.GetString(), viper.GetBool("Debug")); err != nil {
		log.Fatalln(err)
	}
}

// Validate checks the decoded configuration for the settings every
// scheduling flow needs.  Size strings are parsed eagerly by the decode
// hook, so a malformed size surfaces here as a decode error.
func Validate(requireRemote bool) (*param.Config, error) {
	decoded, err := param.Refresh()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	cfg := *decoded

	if cfg.LocalTopOutdir == "" {
		return nil, errors.Errorf("%s must be set", param.LocalTopOutdir.GetName())
	}
	if !filepath.IsAbs(cfg.LocalTopOutdir) {
		abs, err := filepath.Abs(cfg.LocalTopOutdir)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resolve %s", cfg.LocalTopOutdir)
		}
		cfg.LocalTopOutdir = abs
	}
	if cfg.Ratio.SRA2Fastq <= 0 {
		return nil, errors.Errorf("%s must be positive, got %v", param.Ratio_SRA2Fastq.GetName(), cfg.Ratio.SRA2Fastq)
	}
	if cfg.Ratio.Fastq2Usage <= 0 {
		return nil, errors.Errorf("%s must be positive, got %v", param.Ratio_Fastq2Usage.GetName(), cfg.Ratio.Fastq2Usage)
	}
	if cfg.Local.CmdDf == "" {
		return nil, errors.Errorf("%s must be set", param.Local_CmdDf.GetName())
	}
	for _, key := range []param.ByteSizeParam{param.Local_MaxUsage, param.Local_MinFree} {
		if !key.IsSet() {
			return nil, errors.Errorf("%s must be set", key.GetName())
		}
	}

	if requireRemote {
		if cfg.RemoteTopOutdir == "" {
			return nil, errors.Errorf("%s must be set", param.RemoteTopOutdir.GetName())
		}
		if cfg.Remote.Host == "" {
			return nil, errors.Errorf("%s must be set", param.Remote_Host.GetName())
		}
		if cfg.Remote.CmdDf == "" {
			return nil, errors.Errorf("%s must be set", param.Remote_CmdDf.GetName())
		}
		for _, key := range []param.ByteSizeParam{param.Remote_MaxUsage, param.Remote_MinFree} {
			if !key.IsSet() {
				return nil, errors.Errorf("%s must be set", key.GetName())
			}
		}
	}
	return &cfg, nil
}
