package swarm

import (
	"errors"
	"net"
	"testing"
)

func TestDeriveID(t *testing.T) {
	tests := []struct {
		ip       string
		capacity int
		want     int
	}{
		{"192.168.1.23", 10, 3},
		{"192.168.1.30", 10, 0},
		{"10.0.0.255", 10, 5},
		{"10.0.0.7", 4, 3},
		{"::ffff:192.168.1.19", 10, 9},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			got, err := DeriveID(net.ParseIP(tt.ip), tt.capacity)
			if err != nil {
				t.Fatalf("DeriveID() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DeriveID(%s, %d) = %d, want %d", tt.ip, tt.capacity, got, tt.want)
			}
		})
	}
}

func TestDeriveID_Collision(t *testing.T) {
	a, _ := DeriveID(net.ParseIP("192.168.1.13"), 10)
	b, _ := DeriveID(net.ParseIP("192.168.1.103"), 10)
	if a != b {
		t.Errorf("expected the documented modulo collision, got %d and %d", a, b)
	}
}

func TestDeriveID_Errors(t *testing.T) {
	if _, err := DeriveID(net.ParseIP("fe80::1"), 10); !errors.Is(err, ErrNotIPv4) {
		t.Errorf("IPv6 error = %v, want ErrNotIPv4", err)
	}
	if _, err := DeriveID(net.ParseIP("10.0.0.1"), 0); err == nil {
		t.Error("zero capacity accepted")
	}
}
