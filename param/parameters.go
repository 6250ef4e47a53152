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

package param

import (
	"github.com/spf13/viper"

	"github.com/pelicanplatform/rsempipeline/byte_size"
)

// Config is the decoded form of every known configuration key.
type Config struct {
	LocalTopOutdir       string            `mapstructure:"localtopoutdir"`
	RemoteTopOutdir      string            `mapstructure:"remotetopoutdir"`
	InterestedOrganisms  []string          `mapstructure:"interestedorganisms"`
	LocalReferenceNames  map[string]string `mapstructure:"localreferencenames"`
	RemoteReferenceNames map[string]string `mapstructure:"remotereferencenames"`
	Local                struct {
		MaxUsage byte_size.ByteSize `mapstructure:"maxusage"`
		MinFree  byte_size.ByteSize `mapstructure:"minfree"`
		CmdDf    string             `mapstructure:"cmddf"`
	} `mapstructure:"local"`
	Remote struct {
		MaxUsage       byte_size.ByteSize `mapstructure:"maxusage"`
		MinFree        byte_size.ByteSize `mapstructure:"minfree"`
		CmdDf          string             `mapstructure:"cmddf"`
		Host           string             `mapstructure:"host"`
		User           string             `mapstructure:"user"`
		Port           int                `mapstructure:"port"`
		PrivateKeyFile string             `mapstructure:"privatekeyfile"`
		KnownHostsFile string             `mapstructure:"knownhostsfile"`
		AutoAddHostKey bool               `mapstructure:"autoaddhostkey"`
	} `mapstructure:"remote"`
	Ratio struct {
		SRA2Fastq   float64 `mapstructure:"sra2fastq"`
		Fastq2Usage float64 `mapstructure:"fastq2usage"`
	} `mapstructure:"ratio"`
	Cmd struct {
		Ascp      string `mapstructure:"ascp"`
		Wget      string `mapstructure:"wget"`
		FastqDump string `mapstructure:"fastqdump"`
		Rsem      string `mapstructure:"rsem"`
	} `mapstructure:"cmd"`
	Transfer struct {
		EmergencyFloor byte_size.ByteSize `mapstructure:"emergencyfloor"`
		RsyncTemplate  string             `mapstructure:"rsynctemplate"`
	} `mapstructure:"transfer"`
	Logging struct {
		Level       string `mapstructure:"level"`
		LogLocation string `mapstructure:"loglocation"`
	} `mapstructure:"logging"`
	Metrics struct {
		TextfileDir string `mapstructure:"textfiledir"`
	} `mapstructure:"metrics"`
}

type StringParam struct {
	name string
}

type StringSliceParam struct {
	name string
}

type StringMapParam struct {
	name string
}

type BoolParam struct {
	name string
}

type IntParam struct {
	name string
}

type FloatParam struct {
	name string
}

type ByteSizeParam struct {
	name string
}

var (
	LocalTopOutdir  = StringParam{"LocalTopOutdir"}
	RemoteTopOutdir = StringParam{"RemoteTopOutdir"}

	Local_CmdDf = StringParam{"Local.CmdDf"}

	Remote_CmdDf          = StringParam{"Remote.CmdDf"}
	Remote_Host           = StringParam{"Remote.Host"}
	Remote_User           = StringParam{"Remote.User"}
	Remote_PrivateKeyFile = StringParam{"Remote.PrivateKeyFile"}
	Remote_KnownHostsFile = StringParam{"Remote.KnownHostsFile"}

	Cmd_Ascp      = StringParam{"Cmd.Ascp"}
	Cmd_Wget      = StringParam{"Cmd.Wget"}
	Cmd_FastqDump = StringParam{"Cmd.FastqDump"}
	Cmd_Rsem      = StringParam{"Cmd.Rsem"}

	Transfer_RsyncTemplate = StringParam{"Transfer.RsyncTemplate"}

	Logging_Level       = StringParam{"Logging.Level"}
	Logging_LogLocation = StringParam{"Logging.LogLocation"}

	Metrics_TextfileDir = StringParam{"Metrics.TextfileDir"}
)

var (
	InterestedOrganisms = StringSliceParam{"InterestedOrganisms"}
)

var (
	LocalReferenceNames  = StringMapParam{"LocalReferenceNames"}
	RemoteReferenceNames = StringMapParam{"RemoteReferenceNames"}
)

var (
	Remote_AutoAddHostKey = BoolParam{"Remote.AutoAddHostKey"}
)

var (
	Remote_Port = IntParam{"Remote.Port"}
)

var (
	Ratio_SRA2Fastq   = FloatParam{"Ratio.SRA2Fastq"}
	Ratio_Fastq2Usage = FloatParam{"Ratio.Fastq2Usage"}
)

var (
	Local_MaxUsage          = ByteSizeParam{"Local.MaxUsage"}
	Local_MinFree           = ByteSizeParam{"Local.MinFree"}
	Remote_MaxUsage         = ByteSizeParam{"Remote.MaxUsage"}
	Remote_MinFree          = ByteSizeParam{"Remote.MinFree"}
	Transfer_EmergencyFloor = ByteSizeParam{"Transfer.EmergencyFloor"}
)

var allParameterNames = []string{
	"Cmd.Ascp",
	"Cmd.FastqDump",
	"Cmd.Rsem",
	"Cmd.Wget",
	"InterestedOrganisms",
	"Local.CmdDf",
	"Local.MaxUsage",
	"Local.MinFree",
	"LocalReferenceNames",
	"LocalTopOutdir",
	"Logging.Level",
	"Logging.LogLocation",
	"Metrics.TextfileDir",
	"Ratio.Fastq2Usage",
	"Ratio.SRA2Fastq",
	"Remote.AutoAddHostKey",
	"Remote.CmdDf",
	"Remote.Host",
	"Remote.KnownHostsFile",
	"Remote.MaxUsage",
	"Remote.MinFree",
	"Remote.Port",
	"Remote.PrivateKeyFile",
	"Remote.User",
	"RemoteReferenceNames",
	"RemoteTopOutdir",
	"Transfer.EmergencyFloor",
	"Transfer.RsyncTemplate",
}

// getOrCreateConfig returns the cached snapshot, decoding it on first use.
// A config that fails to decode yields zero values; config.Validate is
// where decode errors are reported.
func getOrCreateConfig() *Config {
	if config := viperConfig.Load(); config != nil {
		return config
	}
	config, err := Refresh()
	if err != nil {
		return new(Config)
	}
	return config
}

func (sP StringParam) GetString() string {
	config := getOrCreateConfig()
	switch sP.name {
	case "LocalTopOutdir":
		return config.LocalTopOutdir
	case "RemoteTopOutdir":
		return config.RemoteTopOutdir
	case "Local.CmdDf":
		return config.Local.CmdDf
	case "Remote.CmdDf":
		return config.Remote.CmdDf
	case "Remote.Host":
		return config.Remote.Host
	case "Remote.User":
		return config.Remote.User
	case "Remote.PrivateKeyFile":
		return config.Remote.PrivateKeyFile
	case "Remote.KnownHostsFile":
		return config.Remote.KnownHostsFile
	case "Cmd.Ascp":
		return config.Cmd.Ascp
	case "Cmd.Wget":
		return config.Cmd.Wget
	case "Cmd.FastqDump":
		return config.Cmd.FastqDump
	case "Cmd.Rsem":
		return config.Cmd.Rsem
	case "Transfer.RsyncTemplate":
		return config.Transfer.RsyncTemplate
	case "Logging.Level":
		return config.Logging.Level
	case "Logging.LogLocation":
		return config.Logging.LogLocation
	case "Metrics.TextfileDir":
		return config.Metrics.TextfileDir
	}
	return ""
}

func (sP StringParam) GetName() string {
	return sP.name
}

func (sP StringParam) IsSet() bool {
	return viper.IsSet(sP.name)
}

func (slP StringSliceParam) GetStringSlice() []string {
	config := getOrCreateConfig()
	switch slP.name {
	case "InterestedOrganisms":
		return config.InterestedOrganisms
	}
	return nil
}

func (slP StringSliceParam) GetName() string {
	return slP.name
}

func (slP StringSliceParam) IsSet() bool {
	return viper.IsSet(slP.name)
}

func (smP StringMapParam) GetStringMap() map[string]string {
	config := getOrCreateConfig()
	switch smP.name {
	case "LocalReferenceNames":
		return config.LocalReferenceNames
	case "RemoteReferenceNames":
		return config.RemoteReferenceNames
	}
	return nil
}

func (smP StringMapParam) GetName() string {
	return smP.name
}

func (smP StringMapParam) IsSet() bool {
	return viper.IsSet(smP.name)
}

func (bP BoolParam) GetBool() bool {
	config := getOrCreateConfig()
	switch bP.name {
	case "Remote.AutoAddHostKey":
		return config.Remote.AutoAddHostKey
	}
	return false
}

func (bP BoolParam) GetName() string {
	return bP.name
}

func (bP BoolParam) IsSet() bool {
	return viper.IsSet(bP.name)
}

func (iP IntParam) GetInt() int {
	config := getOrCreateConfig()
	switch iP.name {
	case "Remote.Port":
		return config.Remote.Port
	}
	return 0
}

func (iP IntParam) GetName() string {
	return iP.name
}

func (iP IntParam) IsSet() bool {
	return viper.IsSet(iP.name)
}

func (fP FloatParam) GetFloat64() float64 {
	config := getOrCreateConfig()
	switch fP.name {
	case "Ratio.SRA2Fastq":
		return config.Ratio.SRA2Fastq
	case "Ratio.Fastq2Usage":
		return config.Ratio.Fastq2Usage
	}
	return 0
}

func (fP FloatParam) GetName() string {
	return fP.name
}

func (fP FloatParam) IsSet() bool {
	return viper.IsSet(fP.name)
}

func (bsP ByteSizeParam) GetByteSize() byte_size.ByteSize {
	config := getOrCreateConfig()
	switch bsP.name {
	case "Local.MaxUsage":
		return config.Local.MaxUsage
	case "Local.MinFree":
		return config.Local.MinFree
	case "Remote.MaxUsage":
		return config.Remote.MaxUsage
	case "Remote.MinFree":
		return config.Remote.MinFree
	case "Transfer.EmergencyFloor":
		return config.Transfer.EmergencyFloor
	}
	return 0
}

// GetString returns the raw configured text, before any unit parsing.
func (bsP ByteSizeParam) GetString() string {
	return viper.GetString(bsP.name)
}

func (bsP ByteSizeParam) GetName() string {
	return bsP.name
}

func (bsP ByteSizeParam) IsSet() bool {
	return viper.IsSet(bsP.name)
}
