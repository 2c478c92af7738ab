// Package serialmux shares one serial board between several readers and
// writers. A swarm node reads light samples from the board while its feedback
// outputs write LED commands over the same port; the collector reads button
// presses and drives its LED bank the same way.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/lightswarm/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// subscriberBuffer is how many lines a slow subscriber may fall behind before
// it starts missing lines.
const subscriberBuffer = 16

// SerialMuxInterface is what the sensor, feedback and collector code needs
// from a board.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel receiving every line the board
	// sends from now on.
	Subscribe() (string, chan string)
	// Unsubscribe closes and forgets the channel with the given id.
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command line.
	SendCommand(string) error
	// Monitor reads the board until ctx is done or the port ends.
	Monitor(context.Context) error
	// Close closes every subscriber and the port.
	Close() error

	// Initialise switches the board into streaming mode with all LEDs off.
	Initialise() error

	// AttachAdminRoutes adds the board's /debug/ routes to mux.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux multiplexes a SerialPorter. The board is line oriented in both
// directions.
type SerialMux[T SerialPorter] struct {
	port T

	subMu sync.Mutex
	subs  map[string]chan string

	writeMu sync.Mutex
	closed  atomic.Bool

	statsMu sync.Mutex
	classes map[string]uint64
}

func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:    port,
		subs:    make(map[string]chan string),
		classes: make(map[string]uint64),
	}
}

func randomID() string {
	b := make([]byte, 8)
	_, _ = crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed.Load() {
		close(ch)
		return id, ch
	}
	s.subs[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// startCommands put the board into the mode the sample parser expects.
var startCommands = []string{
	"STREAM 1",     // one sample line per ADC conversion
	"LED ALL 0",    // start dark; the feedback driver owns the LEDs
	"FORMAT PLAIN", // bare decimal samples, no "A=" prefix
}

func (s *SerialMux[T]) Initialise() error {
	for _, command := range startCommands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// readLines scans the port in its own goroutine, since a blocking Read cannot
// observe ctx. The lines channel is closed when the port ends; a scan error
// is delivered on errs first.
func (s *SerialMux[T]) readLines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			errs <- err
		}
	}()
	return lines, errs
}

func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lines, errs := s.readLines(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}
			if s.closed.Load() {
				return nil
			}
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			s.count(ClassifyPayload(line))
			s.fanOut(line)
		}
	}
}

func (s *SerialMux[T]) count(class string) {
	monitoring.BoardLines.WithLabelValues(class).Inc()
	s.statsMu.Lock()
	s.classes[class]++
	s.statsMu.Unlock()
}

// fanOut hands line to every subscriber with room for it.
func (s *SerialMux[T]) fanOut(line string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// LineCounts returns how many lines of each class Monitor has read.
func (s *SerialMux[T]) LineCounts() map[string]uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := make(map[string]uint64, len(s.classes))
	for k, v := range s.classes {
		out[k] = v
	}
	return out
}

func (s *SerialMux[T]) Close() error {
	s.closed.Store(true)
	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("board-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to board", command)
	})

	debug.HandleSilentFunc("board-lines", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.LineCounts()); err != nil {
			monitoring.Logf("[serialmux] failed to encode line counts: %v", err)
		}
	})

	// Server-Sent Events stream of board output.
	debug.Handle("board-tail", "Live tail of board output", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		_, _ = io.WriteString(w, ": ping\n\n")
		flusher.Flush()
		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}))
}
