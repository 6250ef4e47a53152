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

// Package admission decides which samples a scheduling pass may start
// (local processing) or ship (remote transfer), given a disk budget.
package admission

import (
	"math"

	"github.com/pelicanplatform/rsempipeline/sra_info"
)

// Estimate scales a raw size by a policy ratio.
func Estimate(rawSize, ratio float64) float64 {
	return rawSize * ratio
}

// EstimateProcessingUsage is the local footprint of a sample: its SRA
// archives plus the FASTQ files converted from them.
func EstimateProcessingUsage(info sra_info.Info, sra2FastqRatio float64) float64 {
	return Estimate(float64(info.TotalSize()), 1+sra2FastqRatio)
}

// EstimateRSEMUsage is the remote footprint of a sample once rsem runs on
// its FASTQ files.
func EstimateRSEMUsage(info sra_info.Info, sra2FastqRatio, fastq2UsageRatio float64) float64 {
	return Estimate(EstimateProcessingUsage(info, sra2FastqRatio), fastq2UsageRatio)
}

// CalcBudget is the tighter of the usage ceiling and the free-space
// margin.  The result is negative when either is already exceeded.
func CalcBudget(maxUsage, currentUsage, freeSpace, minFree float64) float64 {
	return math.Min(maxUsage-currentUsage, freeSpace-minFree)
}

// FloorBudget clamps a negative budget to zero.
func FloorBudget(budget float64) float64 {
	if budget < 0 {
		return 0
	}
	return budget
}
