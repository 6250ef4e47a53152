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
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pelicanplatform/rsempipeline/admission"
	"github.com/pelicanplatform/rsempipeline/byte_size"
	"github.com/pelicanplatform/rsempipeline/completion"
	"github.com/pelicanplatform/rsempipeline/config"
	"github.com/pelicanplatform/rsempipeline/disk_usage"
	"github.com/pelicanplatform/rsempipeline/pipeline"
)

var (
	selectCmd = &cobra.Command{
		Use:   "select",
		Short: "Report which samples a run or transfer pass would admit",
		Long: `Compute the disk budget and run the admission pass without processing
or transferring anything, and print every decision.`,
		RunE: runSelect,
	}

	selectRemote       bool
	selectTarget       string
	selectIgnoreBudget bool
)

func init() {
	addSampleFlags(selectCmd.Flags())
	selectCmd.Flags().BoolVar(&selectRemote, "remote", false, "plan a transfer pass instead of a run pass")
	selectCmd.Flags().StringVarP(&selectTarget, "target-task", "T", string(pipeline.TaskGenQsubScript),
		"last task of the run pass, which decides when a sample counts as processed")
	selectCmd.Flags().BoolVar(&selectIgnoreBudget, "ignore-disk-usage-rule", false, "admit every unfinished sample regardless of the disk budget")
}

func runSelect(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Validate(selectRemote)
	if err != nil {
		return err
	}
	samples, err := loadSamples(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var plan *admission.Plan
	if selectRemote {
		conn, probe, err := connectRemote(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		planner := admission.NewPlanner(cfg, completion.Oracle{}, completion.NewLedger(cfg.LocalTopOutdir))
		planner.Remote = probe
		if plan, err = planner.PlanRemote(ctx, samples); err != nil {
			return err
		}
	} else {
		target, err := pipeline.ParseTask(selectTarget)
		if err != nil {
			return err
		}
		planner := admission.NewPlanner(cfg, completion.Oracle{FinalStage: target.FinalFlag()}, nil)
		planner.Local = &disk_usage.LocalProbe{DfCommand: cfg.Local.CmdDf, Dir: cfg.LocalTopOutdir}
		planner.IgnoreBudget = selectIgnoreBudget
		if plan, err = planner.PlanLocal(ctx, samples); err != nil {
			return err
		}
	}
	renderPlan(os.Stdout, plan)
	return nil
}

func size(b float64) string {
	return byte_size.FormatSize(b)
}

// renderPlan prints the probe values and one row per decision.
func renderPlan(w io.Writer, plan *admission.Plan) {
	summary := tablewriter.NewWriter(w)
	summary.SetBorder(false)
	summary.SetColumnSeparator("")
	summary.SetAlignment(tablewriter.ALIGN_LEFT)
	summary.AppendBulk([][]string{
		{"Host", plan.Host},
		{"Free space", size(plan.FreeSpace)},
		{"Real usage", size(plan.RealUsage)},
		{"Counted usage", size(plan.CurrentUsage)},
		{"Max usage", size(plan.MaxUsage)},
		{"Min free", size(plan.MinFree)},
		{"Budget", size(plan.RawBudget)},
		{"Remaining", size(plan.Remaining)},
	})
	summary.Render()
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Sample", "Series", "Footprint", "Budget Before", "Verdict"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for k, d := range plan.Decisions {
		table.Append([]string{
			strconv.Itoa(k + 1),
			d.Sample.Name,
			d.Sample.SeriesName(),
			size(d.Footprint),
			size(d.BudgetBefore),
			string(d.Verdict),
		})
	}
	table.SetFooter([]string{"", "", "", "", "admitted", strconv.Itoa(len(plan.Admitted))})
	table.Render()
}
