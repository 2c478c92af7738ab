package network

import (
	"errors"
	"fmt"
	"net"
)

var ErrNoIPv4 = errors.New("no IPv4 address found")

// LocalIPv4 returns the node's IPv4 address on ifaceName, or on the first
// non-loopback interface that is up when ifaceName is empty.
func LocalIPv4(ifaceName string) (net.IP, error) {
	if ifaceName != "" {
		ifi, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", ifaceName, err)
		}
		ip, err := firstIPv4(ifi)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", ifaceName, err)
		}
		return ip, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ip, err := firstIPv4(ifi); err == nil {
			return ip, nil
		}
	}
	return nil, ErrNoIPv4
}

func firstIPv4(ifi *net.Interface) (net.IP, error) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if v4 := ipn.IP.To4(); v4 != nil {
				return v4, nil
			}
		}
	}
	return nil, ErrNoIPv4
}
