// Package registry publishes build artifacts to the artifact registry.
package registry

import (
	"context"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Registry accepts immutable build artifacts. Publish either accepts the
// artifact and returns its reference, or rejects it.
type Registry interface {
	Publish(ctx context.Context, name, version, payload string) (types.ArtifactRef, error)
}

// RejectedError means the registry refused the artifact. It is a definitive
// answer, not an outage.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "artifact rejected: " + e.Reason
}
