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

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	ComponentStatus struct {
		Status     string `json:"status"`
		Message    string `json:"message,omitempty"`
		LastUpdate int64  `json:"last_update"`
	}

	componentStatusInternal struct {
		Status     HealthStatusEnum
		Message    string
		LastUpdate time.Time
	}

	HealthStatus struct {
		OverallStatus   string                     `json:"status"`
		ComponentStatus map[string]ComponentStatus `json:"components"`
	}

	HealthStatusEnum int

	HealthStatusComponent string
)

const (
	StatusCritical HealthStatusEnum = iota + 1
	StatusWarning
	StatusOK
	StatusUnknown // Do not abuse this enum. Use others when possible
)

const statusIndexErrorMessage = "Error: status string index out of range"

const (
	Local_Disk   HealthStatusComponent = "local-disk"
	Remote_Disk  HealthStatusComponent = "remote-disk"
	Remote_SSH   HealthStatusComponent = "remote-ssh"
	SRA_FTP      HealthStatusComponent = "sra-ftp"
	Run_Pipeline HealthStatusComponent = "pipeline"
	Run_Transfer HealthStatusComponent = "transfer"
)

var (
	healthStatus = sync.Map{}

	ComponentHealthStatus = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsempipeline_component_health_status",
		Help: "Health of the components the last pass relied on: 1 critical, 2 warning, 3 ok",
	}, []string{"component"})

	ComponentHealthLastUpdate = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "rsempipeline_component_health_status_last_update",
		Help: "Last update timestamp of components health status",
	}, []string{"component"})
)

func (status HealthStatusEnum) String() string {
	strings := [...]string{"critical", "warning", "ok", "unknown"}

	if int(status) < 1 || int(status) > len(strings) {
		return statusIndexErrorMessage
	}
	return strings[status-1]
}

func (component HealthStatusComponent) String() string {
	return string(component)
}

// SetComponentHealthStatus records the state of one component for this
// process and mirrors it into the exported gauges.
func SetComponentHealthStatus(name HealthStatusComponent, state HealthStatusEnum, msg string) {
	healthStatus.Store(name.String(), componentStatusInternal{state, msg, time.Now()})

	ComponentHealthStatus.WithLabelValues(name.String()).Set(float64(state))
	ComponentHealthLastUpdate.WithLabelValues(name.String()).SetToCurrentTime()
}

// SetComponentHealthFromError is StatusOK with okMsg when err is nil and
// StatusCritical with the error text otherwise.
func SetComponentHealthFromError(name HealthStatusComponent, err error, okMsg string) {
	if err != nil {
		SetComponentHealthStatus(name, StatusCritical, err.Error())
		return
	}
	SetComponentHealthStatus(name, StatusOK, okMsg)
}

func DeleteComponentHealthStatus(name HealthStatusComponent) {
	healthStatus.Delete(name.String())
	ComponentHealthStatus.DeleteLabelValues(name.String())
	ComponentHealthLastUpdate.DeleteLabelValues(name.String())
}

// GetHealthStatus summarises every recorded component; the overall status
// is the worst of them, or unknown when nothing was recorded.
func GetHealthStatus() HealthStatus {
	status := HealthStatus{}
	overallStatus := StatusUnknown
	healthStatus.Range(func(component, compstat any) bool {
		componentStatus, ok := compstat.(componentStatusInternal)
		if !ok {
			return true
		}
		componentString, ok := component.(string)
		if !ok {
			return true
		}
		if status.ComponentStatus == nil {
			status.ComponentStatus = make(map[string]ComponentStatus)
		}
		status.ComponentStatus[componentString] = ComponentStatus{
			componentStatus.Status.String(),
			componentStatus.Message,
			componentStatus.LastUpdate.Unix(),
		}
		if componentStatus.Status < overallStatus {
			overallStatus = componentStatus.Status
		}
		return true
	})
	status.OverallStatus = overallStatus.String()
	return status
}
