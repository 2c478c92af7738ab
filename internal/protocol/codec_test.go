package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncode(t *testing.T) {
	codec := NewCodec(DefaultCapacity)

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"peer reading", PeerReading{ID: 3, Reading: 500}, "~~~3,500---"},
		{"peer reading zero", PeerReading{ID: 0, Reading: 0}, "~~~0,0---"},
		{"leader report", LeaderReport{ID: 3, Reading: 500}, "+++Master,3,500***"},
		{"reset command", ResetCommand{}, "+++RESET_REQUESTED***"},
		{"highest id", PeerReading{ID: 9, Reading: 1024}, "~~~9,1024---"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeRejectsInvalidFields(t *testing.T) {
	codec := NewCodec(10)

	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"id too large", PeerReading{ID: 10, Reading: 1}, ErrIDOutOfRange},
		{"negative id", LeaderReport{ID: -1, Reading: 1}, ErrIDOutOfRange},
		{"negative reading", PeerReading{ID: 1, Reading: -5}, ErrNegativeReading},
		{"nil message", nil, ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Encode(tt.msg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Encode() error = %v, want %v", err, tt.wantErr)
			}
			if got != nil {
				t.Errorf("Encode() = %q, want nil on error", got)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	codec := NewCodec(DefaultCapacity)

	tests := []struct {
		name string
		data string
		want Message
	}{
		{"peer reading", "~~~3,500---", PeerReading{ID: 3, Reading: 500}},
		{"leader report", "+++Master,7,900***", LeaderReport{ID: 7, Reading: 900}},
		{"reset command", "+++RESET_REQUESTED***", ResetCommand{}},
		{"leading zeros", "~~~03,0500---", PeerReading{ID: 3, Reading: 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Decode([]byte(tt.data))
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", tt.data, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode(%q) mismatch (-want +got):\n%s", tt.data, diff)
			}
		})
	}
}

func TestPeerReadingRoundTrip(t *testing.T) {
	codec := NewCodec(DefaultCapacity)

	readings := []int{0, 1, 24, 500, 1023, 1024, 65535, 1 << 30}
	for id := 0; id < codec.Capacity(); id++ {
		for _, r := range readings {
			want := PeerReading{ID: id, Reading: r}
			data, err := codec.Encode(want)
			if err != nil {
				t.Fatalf("Encode(%v) error = %v", want, err)
			}
			got, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", data, err)
			}
			if got != want {
				t.Errorf("round trip = %v, want %v", got, want)
			}
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	codec := NewCodec(DefaultCapacity)

	tests := []struct {
		name          string
		data          string
		unknownFrames bool
	}{
		{"empty", "", true},
		{"no markers", "3,500", true},
		{"peer start control end", "~~~3,500***", true},
		{"control start peer end", "+++Master,3,500---", true},
		{"missing end marker", "~~~3,500", true},
		{"markers only overlap", "~~~--", true},
		{"empty peer body", "~~~---", false},
		{"one field", "~~~3---", false},
		{"three peer fields", "~~~3,500,1---", false},
		{"non-numeric id", "~~~a,500---", false},
		{"non-numeric reading", "~~~3,abc---", false},
		{"signed reading", "~~~3,-5---", false},
		{"plus sign", "~~~3,+5---", false},
		{"whitespace", "~~~3, 500---", false},
		{"id out of range", "~~~10,500---", false},
		{"overflow", "~~~3,99999999999999999999999---", false},
		{"wrong tag", "+++Slave,3,500***", false},
		{"leader missing field", "+++Master,3***", false},
		{"collector fallback form", "+++3,500***", false},
		{"reset lowercase", "+++reset_requested***", false},
		{"leader id out of range", "+++Master,12,500***", false},
		{"oversized", "~~~1," + strings.Repeat("9", MaxPacketSize) + "---", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Decode([]byte(tt.data))
			if err == nil {
				t.Fatalf("Decode(%q) = %v, want error", tt.data, got)
			}
			if got != nil {
				t.Errorf("Decode(%q) returned partial message %v", tt.data, got)
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", tt.data, err)
			}
			if errors.Is(err, ErrUnknownFraming) != tt.unknownFrames {
				t.Errorf("Decode(%q) unknown framing = %v, want %v (err=%v)",
					tt.data, errors.Is(err, ErrUnknownFraming), tt.unknownFrames, err)
			}
		})
	}
}

func TestDecodeIDOutOfRangeIsDistinguishable(t *testing.T) {
	codec := NewCodec(4)

	_, err := codec.Decode([]byte("~~~4,100---"))
	if !errors.Is(err, ErrIDOutOfRange) {
		t.Errorf("error = %v, want ErrIDOutOfRange", err)
	}
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed", err)
	}
}

func TestNewCodecDefaultsCapacity(t *testing.T) {
	if got := NewCodec(0).Capacity(); got != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", got, DefaultCapacity)
	}
}

func TestKindString(t *testing.T) {
	tests := map[Kind]string{
		KindPeerReading:  "peer_reading",
		KindLeaderReport: "leader_report",
		KindResetCommand: "reset_command",
		Kind(42):         "kind(42)",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
