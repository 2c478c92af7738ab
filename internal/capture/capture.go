// Package capture replays swarm traffic from pcap files.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Packet is one swarm datagram found in a capture.
type Packet struct {
	Timestamp time.Time
	Src       net.IP
	SrcPort   int
	Payload   []byte
}

// Stats counts what a replay saw.
type Stats struct {
	Frames   int // every frame in the capture
	Matched  int // UDP datagrams on the swarm port handed to fn
	Skipped  int // non-UDP or other-port frames
	Damaged  int // frames gopacket could not fully decode
	Duration time.Duration
}

// ReadPCAP walks a classic pcap stream and calls fn for every UDP datagram
// whose source or destination port equals port. Replay stops early when ctx is
// cancelled or fn returns an error.
func ReadPCAP(ctx context.Context, r io.Reader, port int, fn func(Packet) error) (Stats, error) {
	var stats Stats
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("failed to open pcap stream: %w", err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	var first, last time.Time
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read frame %d: %w", stats.Frames+1, err)
		}
		stats.Frames++

		ts := packet.Metadata().Timestamp
		if first.IsZero() {
			first = ts
		}
		last = ts

		if packet.ErrorLayer() != nil {
			stats.Damaged++
		}
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || (int(udp.DstPort) != port && int(udp.SrcPort) != port) {
			stats.Skipped++
			continue
		}

		p := Packet{
			Timestamp: ts,
			SrcPort:   int(udp.SrcPort),
			Payload:   append([]byte(nil), udp.Payload...),
		}
		if ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
			p.Src = append(net.IP(nil), ip.SrcIP...)
		}
		stats.Matched++
		if err := fn(p); err != nil {
			return stats, err
		}
	}
	stats.Duration = last.Sub(first)
	return stats, nil
}
