package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestableSerialPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// ScriptedPort joins a generated line stream with a discarding writer, standing in
// for a sensor board during bench runs without hardware.
type ScriptedPort struct {
	*io.PipeReader
	stop chan struct{}
	once sync.Once
}

func (p *ScriptedPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *ScriptedPort) Close() error {
	p.once.Do(func() { close(p.stop) })
	return p.PipeReader.Close()
}

// NewMockSerialMux creates a SerialMux whose board emits one sample line per
// period. Each sample comes from next, so callers can script a light level.
func NewMockSerialMux(period time.Duration, next func() int) *SerialMux[*ScriptedPort] {
	r, w := io.Pipe()
	port := &ScriptedPort{PipeReader: r, stop: make(chan struct{})}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-port.stop:
				return
			case <-ticker.C:
				if _, err := w.Write([]byte(strconv.Itoa(next()) + "\n")); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(port)
}

// TestableSerialPort implements SerialPorter with scripted reads and captured
// writes.
type TestableSerialPort struct {
	mu sync.Mutex

	readBuffer  *bytes.Buffer
	writeBuffer *bytes.Buffer

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	closed   bool
	readCond *sync.Cond
}

// NewTestableSerialPort creates a port whose reads block until data is added
// or the port is closed.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		readBuffer:  bytes.NewBuffer(nil),
		writeBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.closed && t.readBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.closed {
		return 0, io.EOF
	}
	return t.readBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	return t.writeBuffer.Write(p)
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData queues data for subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readBuffer.Write(data)
	t.readCond.Signal()
}

// Written returns everything written to the port so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.writeBuffer.String()
}

// Closed reports whether Close has been called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
