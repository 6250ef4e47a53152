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
	"sort"
	"testing"
)

func TestAllParameterNamesSortedAndContainsKnownKeys(t *testing.T) {
	if !sort.StringsAreSorted(allParameterNames) {
		t.Fatalf("allParameterNames must be sorted")
	}

	want := []string{
		Local_MaxUsage.GetName(),
		Remote_MinFree.GetName(),
		Ratio_SRA2Fastq.GetName(),
		InterestedOrganisms.GetName(),
		RemoteReferenceNames.GetName(),
		Transfer_EmergencyFloor.GetName(),
	}

	for _, key := range want {
		idx := sort.SearchStrings(allParameterNames, key)
		if idx >= len(allParameterNames) || allParameterNames[idx] != key {
			t.Fatalf("expected key %q in allParameterNames", key)
		}
	}
}
