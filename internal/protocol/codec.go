package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Codec encodes and decodes swarm messages. The identifier capacity is part
// of the codec because decoding rejects identifiers outside [0, capacity).
//
// Layouts (ASCII, no escaping):
//
//	PeerReading   ~~~<id>,<reading>---
//	LeaderReport  +++Master,<id>,<reading>***
//	ResetCommand  +++RESET_REQUESTED***
type Codec struct {
	capacity int
}

// NewCodec returns a codec for identifiers in [0, capacity). A non-positive
// capacity selects DefaultCapacity.
func NewCodec(capacity int) *Codec {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Codec{capacity: capacity}
}

// Capacity returns N.
func (c *Codec) Capacity() int { return c.capacity }

// Encode serialises m into a framed datagram payload.
func (c *Codec) Encode(m Message) ([]byte, error) {
	var frame string
	switch msg := m.(type) {
	case PeerReading:
		if err := c.checkFields(msg.ID, msg.Reading); err != nil {
			return nil, err
		}
		frame = PeerStart + strconv.Itoa(msg.ID) + "," + strconv.Itoa(msg.Reading) + PeerEnd
	case LeaderReport:
		if err := c.checkFields(msg.ID, msg.Reading); err != nil {
			return nil, err
		}
		frame = ControlStart + leaderTag + "," + strconv.Itoa(msg.ID) + "," + strconv.Itoa(msg.Reading) + ControlEnd
	case ResetCommand:
		frame = ControlStart + resetBody + ControlEnd
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}

	if len(frame) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(frame))
	}
	return []byte(frame), nil
}

func (c *Codec) checkFields(id, reading int) error {
	if id < 0 || id >= c.capacity {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIDOutOfRange, id, c.capacity)
	}
	if reading < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeReading, reading)
	}
	return nil
}

// Decode parses a datagram payload. The marker pair is checked first so the
// producer class is known before the body is parsed. Failures never return a
// partially populated message.
func (c *Codec) Decode(data []byte) (Message, error) {
	if len(data) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformed, len(data), MaxPacketSize)
	}
	s := string(data)

	if body, ok := unframe(s, PeerStart, PeerEnd); ok {
		return c.decodePeer(body)
	}
	if body, ok := unframe(s, ControlStart, ControlEnd); ok {
		return c.decodeControl(body)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFraming, truncate(s))
}

func unframe(s, start, end string) (string, bool) {
	if len(s) < len(start)+len(end) {
		return "", false
	}
	if !strings.HasPrefix(s, start) || !strings.HasSuffix(s, end) {
		return "", false
	}
	return s[len(start) : len(s)-len(end)], true
}

func (c *Codec) decodePeer(body string) (Message, error) {
	fields := strings.Split(body, ",")
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: peer body %q has %d fields, want 2", ErrMalformed, body, len(fields))
	}
	id, reading, err := c.parseIDReading(fields[0], fields[1])
	if err != nil {
		return nil, err
	}
	return PeerReading{ID: id, Reading: reading}, nil
}

func (c *Codec) decodeControl(body string) (Message, error) {
	if body == resetBody {
		return ResetCommand{}, nil
	}

	fields := strings.Split(body, ",")
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: control body %q has %d fields, want 3", ErrMalformed, body, len(fields))
	}
	if fields[0] != leaderTag {
		return nil, fmt.Errorf("%w: control tag %q", ErrMalformed, fields[0])
	}
	id, reading, err := c.parseIDReading(fields[1], fields[2])
	if err != nil {
		return nil, err
	}
	return LeaderReport{ID: id, Reading: reading}, nil
}

func (c *Codec) parseIDReading(idField, readingField string) (int, int, error) {
	id, err := parseUint(idField)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: identifier: %v", ErrMalformed, err)
	}
	if id >= c.capacity {
		return 0, 0, fmt.Errorf("%w: %w: %d not in [0, %d)", ErrMalformed, ErrIDOutOfRange, id, c.capacity)
	}
	reading, err := parseUint(readingField)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: reading: %v", ErrMalformed, err)
	}
	return id, reading, nil
}

// parseUint accepts plain decimal digits only: no sign, no whitespace.
func parseUint(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty field")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("non-digit %q in %q", s[i], s)
		}
	}
	return strconv.Atoi(s)
}

func truncate(s string) string {
	const max = 32
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
