package serialmux

import "io"

// SerialPorter is the byte stream of a board: a serial.Port on hardware, a
// ScriptedPort in -dev mode, an idlePort when no board is attached and a
// TestableSerialPort in tests.
type SerialPorter interface {
	io.ReadWriteCloser
}
