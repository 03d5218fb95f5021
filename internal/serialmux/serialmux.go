// Package serialmux shares one acquisition board between readers. Every line
// the board prints is fanned out to subscribers, and commands from any
// goroutine are written to the port one at a time.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// SerialMuxInterface is implemented by SerialMux and DisabledSerialMux.
type SerialMuxInterface interface {
	// Subscribe returns an ID and a channel of raw lines. The channel is
	// closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(id string)
	// SendCommand writes one command line to the board.
	SendCommand(command string) error
	// Monitor reads lines and fans them out until the port is exhausted,
	// the mux is closed or ctx is done.
	Monitor(ctx context.Context) error
	Close() error
	// Initialise configures the board to stream samples at fs.
	Initialise(fs float64) error
	Stats() Stats
	// AttachAdminRoutes mounts debug endpoints under /debug/, reachable only
	// from localhost or the tailnet.
	AttachAdminRoutes(mux *http.ServeMux)
}

var _ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)

// subscriberBuffer lets a subscriber fall a second behind a 250 Hz board
// before lines are dropped.
const subscriberBuffer = 256

// SerialMux multiplexes one port.
type SerialMux[T SerialPorter] struct {
	port T
	reg  registry

	writeMu sync.Mutex
}

// NewSerialMux wraps port. Reading starts with Monitor.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, reg: newRegistry(subscriberBuffer)}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) { return s.reg.subscribe() }

func (s *SerialMux[T]) Unsubscribe(id string) { s.reg.unsubscribe(id) }

func (s *SerialMux[T]) Stats() Stats { return s.reg.stats() }

// BoardCommands is the start-up sequence for the ADC board: stop any running
// stream, set the rate, select one CSV sample per line and start streaming.
func BoardCommands(fs float64) []string {
	return []string{
		"STOP",
		fmt.Sprintf("RATE %d", int(math.Round(fs))),
		"FORMAT CSV",
		"START",
	}
}

// Initialise sends BoardCommands(fs).
func (s *SerialMux[T]) Initialise(fs float64) error {
	if fs <= 0 || math.IsNaN(fs) || math.IsInf(fs, 0) {
		return fmt.Errorf("invalid sampling rate %v", fs)
	}
	for _, command := range BoardCommands(fs) {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("board start-up at %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes command terminated by exactly one newline.
func (s *SerialMux[T]) SendCommand(command string) error {
	line := strings.TrimRight(command, "\r\n") + "\n"
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(line), err)
	}
	if n != len(line) {
		return fmt.Errorf("%w: %d of %d bytes of %q", ErrWriteFailed, n, len(line), strings.TrimSpace(line))
	}
	return nil
}

type scanResult struct {
	line string
	err  error
	eof  bool
}

func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	results := make(chan scanResult)
	// Port reads block, so scanning runs apart from the select below.
	go func() {
		scan := bufio.NewScanner(s.port)
		send := func(r scanResult) bool {
			select {
			case results <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for scan.Scan() {
			if !send(scanResult{line: scan.Text()}) {
				return
			}
		}
		send(scanResult{err: scan.Err(), eof: true})
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			if r.eof {
				return r.err
			}
			if s.reg.isClosed() {
				return nil
			}
			s.reg.publish(r.line)
		}
	}
}

// Close closes every subscriber and the port. Later calls are no-ops.
func (s *SerialMux[T]) Close() error {
	if !s.reg.shutdown() {
		return nil
	}
	st := s.reg.stats()
	logf("closing port after %d lines, %d dropped", st.Lines, st.Dropped)
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}
