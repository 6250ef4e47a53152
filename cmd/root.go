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

package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pelicanplatform/rsempipeline/config"
)

var (
	// Set through -ldflags at build time.
	version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "rsempipeline",
		Short: "Run RSEM on GEO samples within local and remote disk budgets",
		Long: `rsempipeline parses GEO soft files and a list of interested samples,
downloads their SRA archives, converts them to fastq and prepares or runs
RSEM.  Samples are only admitted while their estimated footprint fits the
disk budget of the host they are headed to; the transfer flow ships
processed samples to the remote cluster under its quota.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		log.Errorln("Fatal error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(config.InitConfig)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(prepCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./"+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logs; run only prints the commands it would execute")
	rootCmd.PersistentFlags().StringP("log", "l", "", "Specified log output file")

	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("Debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("Logging.LogLocation", rootCmd.PersistentFlags().Lookup("log")); err != nil {
		panic(err)
	}
}
