package tasks

import (
	"fmt"
	"net"
)

// ProcessMutex binds a well-known TCP port as a cross-process mutex
// (§4.6 "A single task-server process binds a well-known port as a
// mutex — a second instance on the same host exits cleanly"). The
// listener is never accepted from; its mere existence is the lock.
type ProcessMutex struct {
	ln net.Listener
}

// AcquireProcessMutex attempts to bind addr. A non-nil error means
// another instance already holds the mutex; the caller should exit
// cleanly rather than treat it as a startup failure.
func AcquireProcessMutex(addr string) (*ProcessMutex, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tasks: process mutex %s held by another instance: %w", addr, err)
	}
	return &ProcessMutex{ln: ln}, nil
}

func (m *ProcessMutex) Release() error {
	if m == nil || m.ln == nil {
		return nil
	}
	return m.ln.Close()
}
