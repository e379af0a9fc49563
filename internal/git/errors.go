package git

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

var (
	ErrRefConcurrentlyModified = errors.New("reference was modified concurrently")
	ErrNetwork                 = errors.New("network error")
	ErrAuth                    = errors.New("authentication failed")
	ErrPushRejected            = errors.New("push rejected")
	ErrNoUpstream              = errors.New("no upstream configured")
	ErrNoHead                  = errors.New("repository has no commits")
	ErrDestinationExists       = errors.New("destination already exists")
)

// PushRejectedError carries the remote ref that refused the update.
type PushRejectedError struct {
	Remote string
	Ref    plumbing.ReferenceName
	Reason string
}

func (e *PushRejectedError) Error() string {
	return fmt.Sprintf("%s: %s rejected by %s: %s (sync and try again)", ErrPushRejected, e.Ref.Short(), e.Remote, e.Reason)
}

func (e *PushRejectedError) Unwrap() error {
	return ErrPushRejected
}
