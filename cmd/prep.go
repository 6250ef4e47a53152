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
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pelicanplatform/rsempipeline/geo"
	"github.com/pelicanplatform/rsempipeline/isamp"
)

var (
	prepCmd = &cobra.Command{
		Use:   "prep",
		Short: "Prepare the interested samples list from a collaborator's GSE_GSM.csv",
	}

	findDupCmd = &cobra.Command{
		Use:   "find-dup GSE_GSM.csv",
		Short: "Detect GSMs listed twice within one GSE",
		Args:  cobra.ExactArgs(1),
		RunE:  runFindDup,
	}

	genCsvCmd = &cobra.Command{
		Use:   "gen-csv GSE_GSM.csv",
		Short: "Look up the species of every GSM and write " + geo.SpeciesCSV,
		Args:  cobra.ExactArgs(1),
		RunE:  runGenCsv,
	}

	genCsvOutdir  string
	genCsvThreads int
)

func init() {
	prepCmd.AddCommand(findDupCmd)
	prepCmd.AddCommand(genCsvCmd)
	genCsvCmd.Flags().StringVarP(&genCsvOutdir, "outdir", "o", "", "output directory (default is the directory of GSE_GSM.csv)")
	genCsvCmd.Flags().IntVarP(&genCsvThreads, "threads", "n", 8, "number of GEO pages fetched concurrently")
}

func readGSEGSMFile(path string) ([]isamp.Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	pairs, err := isamp.ReadGSEGSMs(f)
	return pairs, errors.Wrapf(err, "invalid %s", path)
}

func runFindDup(_ *cobra.Command, args []string) error {
	pairs, err := readGSEGSMFile(args[0])
	if err != nil {
		return err
	}
	if dups := isamp.FindDuplicates(pairs); len(dups) > 0 {
		return errors.Errorf("%d duplicated GSM(s) found in %s; please remove them and save to a new GSE_GSM.csv", len(dups), args[0])
	}
	log.Info("No duplication detected within any GSE")
	return nil
}

func runGenCsv(cmd *cobra.Command, args []string) error {
	pairs, err := readGSEGSMFile(args[0])
	if err != nil {
		return err
	}
	outdir := genCsvOutdir
	if outdir == "" {
		outdir = filepath.Dir(args[0])
	}
	if err := os.MkdirAll(outdir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", outdir)
	}

	g := geo.NewGenerator(outdir, genCsvThreads)
	var rows, noSpecies []isamp.Row
	err = runWithSignals(cmd.Context(), func(ctx context.Context) error {
		var err error
		rows, noSpecies, err = g.Generate(ctx, pairs)
		return err
	})
	if err != nil {
		return err
	}
	if len(noSpecies) > 0 {
		log.Warnf("%d GSMs have no species information, e.g. private samples; see %s", len(noSpecies), geo.NoSpeciesCSV)
	}
	return g.WriteOutputs(rows, noSpecies)
}
