package models

import "time"

// LaunchState is the lifecycle state of the worker launched for an item.
type LaunchState string

const (
	LaunchDispatched      LaunchState = "dispatched"
	LaunchProvisioned     LaunchState = "provisioned"
	LaunchProvisionFailed LaunchState = "provision_failed"
	LaunchRunning         LaunchState = "running"
	LaunchTerminated      LaunchState = "terminated"
)

// A worker can report in before the dispatcher records the provider ack,
// so dispatched may jump straight to running or terminated.
var launchTransitions = map[LaunchState][]LaunchState{
	LaunchDispatched:      {LaunchProvisioned, LaunchProvisionFailed, LaunchRunning, LaunchTerminated},
	LaunchProvisioned:     {LaunchRunning, LaunchTerminated},
	LaunchProvisionFailed: {LaunchDispatched},
	LaunchRunning:         {LaunchTerminated},
}

// Valid reports whether s is a known state.
func (s LaunchState) Valid() bool {
	switch s {
	case LaunchDispatched, LaunchProvisioned, LaunchProvisionFailed, LaunchRunning, LaunchTerminated:
		return true
	}
	return false
}

// CanTransition reports whether a launch may move from s to next.
func (s LaunchState) CanTransition(next LaunchState) bool {
	for _, allowed := range launchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Launched reports whether the provider has accepted a worker for the item,
// which makes further claims for it no-ops.
func (s LaunchState) Launched() bool {
	return s == LaunchProvisioned || s == LaunchRunning || s == LaunchTerminated
}

// Launch is the ledger entry for an item's worker.
type Launch struct {
	ItemID         string      `json:"item_id"`
	State          LaunchState `json:"state"`
	Attempts       int         `json:"attempts"`
	InstanceID     string      `json:"instance_id,omitempty"`
	Provider       string      `json:"provider,omitempty"`
	IdempotencyKey string      `json:"idempotency_key"`
	LastError      string      `json:"last_error,omitempty"`
	ExitCode       *int        `json:"exit_code,omitempty"`
	ClaimedAt      time.Time   `json:"claimed_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Failed reports whether the worker exited non-zero.
func (l Launch) Failed() bool {
	return l.State == LaunchTerminated && l.ExitCode != nil && *l.ExitCode != 0
}
