package serialmux

import (
	"strconv"
	"strings"
)

// Line classes emitted by the sensor board.
const (
	EventTypeSample  = "sample"
	EventTypeLog     = "log"
	EventTypeButton  = "button"
	EventTypeUnknown = "unknown"
)

// ButtonLine is sent by the collector board when its reset button is pressed.
const ButtonLine = "BUTTON"

// ClassifyPayload inspects a line from the board. Samples are a bare decimal
// ADC value or "A=<value>"; lines starting with '#' are firmware log output.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "#") {
		return EventTypeLog
	}
	if payload == ButtonLine {
		return EventTypeButton
	}
	if _, ok := ParseSample(payload); ok {
		return EventTypeSample
	}
	return EventTypeUnknown
}

// ParseSample extracts the ADC value from a sample line.
func ParseSample(payload string) (int, bool) {
	payload = strings.TrimSpace(payload)
	payload = strings.TrimPrefix(payload, "A=")
	if payload == "" {
		return 0, false
	}
	v, err := strconv.Atoi(payload)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// LEDCommand formats the board command that drives one LED channel.
func LEDCommand(channel string, on bool) string {
	state := "0"
	if on {
		state = "1"
	}
	return "LED " + channel + " " + state
}
