package serialmux

import (
	"io"
	"sync"
)

// idlePort is a board that never sends a line and swallows every command.
// Reads block until Close.
type idlePort struct {
	done chan struct{}
	once sync.Once
}

func (p *idlePort) Read([]byte) (int, error) {
	<-p.done
	return 0, io.EOF
}

func (p *idlePort) Write(b []byte) (int, error) { return len(b), nil }

func (p *idlePort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// DisabledSerialMux stands in for a missing board (-board=""). Subscribers
// never receive a line but their channels still close on Unsubscribe or
// Close, so readers unblock during shutdown.
type DisabledSerialMux struct {
	*SerialMux[*idlePort]
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{NewSerialMux(&idlePort{done: make(chan struct{})})}
}
