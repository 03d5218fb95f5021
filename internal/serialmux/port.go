package serialmux

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// SerialPorter is what the mux needs from a board connection. Tests and the
// synthetic source satisfy it without hardware.
type SerialPorter interface {
	io.ReadWriteCloser
}

// NewRealSerialMux opens the board at path and wraps it in a mux.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	logf("opened %s at %d baud", path, mode.BaudRate)
	return NewSerialMux[serial.Port](port), nil
}
