package core

import (
	"context"
	"sync"
)

// PendingOperation is the caller's handle on a started flow. It settles at
// most once, with a credential (possibly nil) or an error.
type PendingOperation struct {
	eventID  string
	authType AuthEventType

	once sync.Once
	done chan struct{}
	cred *UserCredential
	err  error
}

func newPendingOperation(eventID string, authType AuthEventType) *PendingOperation {
	return &PendingOperation{
		eventID:  eventID,
		authType: authType,
		done:     make(chan struct{}),
	}
}

func (p *PendingOperation) EventID() string {
	if p == nil {
		return ""
	}
	return p.eventID
}

func (p *PendingOperation) AuthType() AuthEventType {
	if p == nil {
		return AuthEventUnknown
	}
	return p.authType
}

func (p *PendingOperation) Done() <-chan struct{} {
	return p.done
}

// Settled reports whether the operation has been resolved or rejected.
func (p *PendingOperation) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Result returns the settlement without blocking. ok is false while pending.
func (p *PendingOperation) Result() (cred *UserCredential, err error, ok bool) {
	if !p.Settled() {
		return nil, nil, false
	}
	return p.cred, p.err, true
}

// Wait blocks until the operation settles or ctx is done. Cancelling ctx only
// stops this wait; the operation stays pending.
func (p *PendingOperation) Wait(ctx context.Context) (*UserCredential, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.done:
		return p.cred, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle reports whether this call performed the settlement.
func (p *PendingOperation) settle(cred *UserCredential, err error) bool {
	settled := false
	p.once.Do(func() {
		if err == nil {
			p.cred = cred
		}
		p.err = err
		settled = true
		close(p.done)
	})
	return settled
}
