// Package platform talks to the deployment platform hosting delivered workloads.
package platform

import (
	"context"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// WorkloadStatus is one observation of a deployed workload.
type WorkloadStatus struct {
	DesiredReplicas int    `json:"desiredReplicas"`
	ReadyReplicas   int    `json:"readyReplicas"`
	LastError       string `json:"lastError,omitempty"`
}

// Ready reports whether the observation meets the readiness target.
func (s WorkloadStatus) Ready() bool {
	return s.DesiredReplicas > 0 && s.ReadyReplicas >= s.DesiredReplicas
}

// Platform is the deployment target. Apply submits a workload spec; Status
// reports current readiness for a selector.
type Platform interface {
	Apply(ctx context.Context, w types.WorkloadSpec) error
	Status(ctx context.Context, selector string) (WorkloadStatus, error)
}

// RejectedError means the platform refused the workload spec. It is a
// definitive answer, not an outage.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "workload rejected: " + e.Reason
}
