// Package transport defines the send capability the campaign orchestrator drives,
// plus the implementations wired by the commands.
//
// A Transport returns nil on success or an error that appErrors.KindOf can
// classify. Unclassified errors and timeouts are transient.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

// Transport delivers one job. It receives a copy of the job and must not keep it.
// Send must return once ctx is done: the orchestrator stops waiting at the job
// timeout and abandons the call, and a Send that ignores ctx keeps its goroutine
// until it returns.
type Transport interface {
	Send(ctx context.Context, job model.EmailJob) error
}

// Func adapts a plain function to Transport.
type Func func(ctx context.Context, job model.EmailJob) error

// Send calls f.
func (f Func) Send(ctx context.Context, job model.EmailJob) error {
	return f(ctx, job)
}

// ValidateEmail performs the cheap syntactic check done before a message leaves the process.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email address is required")
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid email address format: %s", email)
	}
	if !strings.Contains(parts[1], ".") {
		return fmt.Errorf("invalid email domain: %s", parts[1])
	}
	return nil
}
