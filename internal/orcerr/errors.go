// Package orcerr defines the orchestrator error taxonomy and the single
// place where operator-facing wording lives. Internal detail stays in
// logs; chat and HTTP surfaces both render through this package so the
// wording agrees everywhere.
package orcerr

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports bad user input on create. Surfaced verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError reports a reference that matched no agent.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no agent matches %q", e.Ref)
}

// AmbiguousError reports a prefix that matched more than one agent.
type AmbiguousError struct {
	Ref        string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("reference %q is ambiguous: matches %s", e.Ref, strings.Join(e.Candidates, ", "))
}

// AgentStoppedError reports an attempted turn on a stopped agent.
type AgentStoppedError struct {
	ID    string
	Title string
}

func (e *AgentStoppedError) Error() string {
	return fmt.Sprintf("agent %s (%s) is stopped", e.ID, e.Title)
}

// ExternalProcessError reports a reasoner subprocess failure or timeout.
type ExternalProcessError struct {
	Op  string
	Err error
}

func (e *ExternalProcessError) Error() string {
	return fmt.Sprintf("external process %s: %v", e.Op, e.Err)
}

func (e *ExternalProcessError) Unwrap() error { return e.Err }

// PersistenceError reports a failed durable write. The triggering
// operation is not applied; the registry stays at the last durably
// confirmed value.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Render turns any error into a short operator-facing message.
func Render(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Msg
	}
	var nferr *NotFoundError
	if errors.As(err, &nferr) {
		return fmt.Sprintf("No agent matches %q. Use /agents to list them.", nferr.Ref)
	}
	var aerr *AmbiguousError
	if errors.As(err, &aerr) {
		return fmt.Sprintf("%q matches several agents (%s). Use a longer prefix.", aerr.Ref, strings.Join(aerr.Candidates, ", "))
	}
	var serr *AgentStoppedError
	if errors.As(err, &serr) {
		return fmt.Sprintf("Agent %s is stopped. Start a new task or pick another agent.", serr.Title)
	}
	var xerr *ExternalProcessError
	if errors.As(err, &xerr) {
		return "The task could not be completed this time. Send the message again to retry."
	}
	var perr *PersistenceError
	if errors.As(err, &perr) {
		return "Something went wrong saving that. Nothing was changed; please try again."
	}
	return "Something went wrong. Please try again."
}
