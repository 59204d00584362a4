// Package model defines database models
package model

import "fmt"

// Status describes where an asset is in its transfer lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// transitions is the closed set of legal status moves. error -> pending
// is only reachable through a manual reset, which is why it's listed here
// but guarded again at the queue level.
var transitions = map[Status][]Status{
	StatusPending:    {StatusUploading},
	StatusUploading:  {StatusProcessing, StatusReady, StatusError},
	StatusProcessing: {StatusReady, StatusError},
	StatusReady:      {StatusError},
	StatusError:      {StatusPending},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Transition mutates the asset's status, rejecting illegal moves like
// ready -> uploading so callers can't corrupt the state machine.
func (a *Asset) Transition(next Status) error {
	if a.Status == next {
		return nil
	}

	if !a.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s", a.Status, next)
	}

	a.Status = next
	return nil
}
