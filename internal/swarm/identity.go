package swarm

import (
	"errors"
	"fmt"
	"net"
)

var ErrNotIPv4 = errors.New("address is not IPv4")

// DeriveID maps an IPv4 address to a swarm identifier: the low-order address
// byte modulo capacity. Distinct nodes are not guaranteed distinct ids; with
// more than capacity participants, or addresses sharing a residue, ids
// collide and colliding nodes overwrite each other's table slot.
func DeriveID(ip net.IP, capacity int) (int, error) {
	if capacity <= 0 {
		return 0, fmt.Errorf("invalid capacity %d", capacity)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("%w: %v", ErrNotIPv4, ip)
	}
	return int(v4[3]) % capacity, nil
}
