package kube

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrRolloutTimeout means a deployment did not become ready within the
// rollout wait window. Failed and timed-out rollouts are indistinguishable
// to callers; both leave the deployment in its pre-wait state.
var ErrRolloutTimeout = errors.New("rollout did not become ready")

// KubeError wraps errors with the operation and app they belong to.
type KubeError struct {
	Op  string // Operation that failed
	App string // Application name
	Err error
}

func (e *KubeError) Error() string {
	if e.App != "" {
		return fmt.Sprintf("kube %s for %s: %v", e.Op, e.App, e.Err)
	}
	return fmt.Sprintf("kube %s: %v", e.Op, e.Err)
}

func (e *KubeError) Unwrap() error {
	return e.Err
}

// NewKubeError creates a new KubeError.
func NewKubeError(op, app string, err error) *KubeError {
	return &KubeError{Op: op, App: app, Err: err}
}
