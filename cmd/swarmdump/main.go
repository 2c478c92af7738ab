// Command swarmdump prints swarm traffic. Given a pcap file it replays the
// capture as a timeline followed by a per-node summary; with -watch it
// follows a collector's live feed instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/lightswarm/internal/capture"
	"github.com/banshee-data/lightswarm/internal/collector"
	"github.com/banshee-data/lightswarm/internal/feed"
	"github.com/banshee-data/lightswarm/internal/protocol"
	"github.com/banshee-data/lightswarm/internal/version"
)

var (
	port        = flag.Int("port", protocol.DefaultPort, "UDP port the swarm uses")
	capacity    = flag.Int("capacity", protocol.DefaultCapacity, "Swarm id space")
	quiet       = flag.Bool("quiet", false, "Only print the per-node summary")
	watchAddr   = flag.String("watch", "", "Follow the live feed of the collector at this gRPC address instead of reading a capture")
	kinds       = flag.String("kinds", "", "Comma-separated update kinds to follow with -watch (default all)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func describe(msg protocol.Message) string {
	switch m := msg.(type) {
	case protocol.PeerReading:
		return fmt.Sprintf("round  id=%d reading=%d", m.ID, m.Reading)
	case protocol.LeaderReport:
		return fmt.Sprintf("leader id=%d reading=%d", m.ID, m.Reading)
	case protocol.ResetCommand:
		return "reset"
	default:
		return msg.Kind().String()
	}
}

// dump replays the capture in r and writes the timeline and summary to w.
func dump(ctx context.Context, r io.Reader, w io.Writer, port, capacity int, quiet bool) error {
	sum := capture.NewSummary(capacity)
	var start time.Time
	stats, err := capture.ReadPCAP(ctx, r, port, func(p capture.Packet) error {
		if start.IsZero() {
			start = p.Timestamp
		}
		msg, err := sum.Add(p)
		if quiet {
			return nil
		}
		offset := p.Timestamp.Sub(start).Seconds()
		if err != nil {
			fmt.Fprintf(w, "%10.3fs %-15s malformed %q\n", offset, p.Src, p.Payload)
			return nil
		}
		fmt.Fprintf(w, "%10.3fs %-15s %s\n", offset, p.Src, describe(msg))
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d frames, %d swarm datagrams, %d skipped, %d damaged over %v\n",
		stats.Frames, stats.Matched, stats.Skipped, stats.Damaged, stats.Duration)
	fmt.Fprintf(w, "%-15s %4s %7s %7s %6s %9s %7s\n", "addr", "id", "rounds", "leader", "resets", "malformed", "last")
	for _, n := range sum.Nodes() {
		id := "-"
		if n.SwarmID >= 0 {
			id = fmt.Sprint(n.SwarmID)
		}
		fmt.Fprintf(w, "%-15s %4s %7d %7d %6d %9d %7d\n", n.Addr, id, n.Rounds, n.LeaderReports, n.Resets, n.Malformed, n.LastReading)
	}
	return nil
}

func formatUpdate(u collector.Update) string {
	at := u.At.Local().Format("15:04:05.000")
	switch u.Kind {
	case collector.UpdateReset:
		return fmt.Sprintf("%s reset session=%s", at, u.Session)
	case collector.UpdateMasterChange:
		return fmt.Sprintf("%s master_change from=%d to=%d LED%d", at, u.PrevID, u.SwarmID, u.LED)
	case collector.UpdateMasterSet:
		return fmt.Sprintf("%s master_set to=%d LED%d", at, u.SwarmID, u.LED)
	default:
		return fmt.Sprintf("%s %s id=%d reading=%d blink=%dms LED%d", at, u.Kind, u.SwarmID, u.Reading, u.Interval.Milliseconds(), u.LED)
	}
}

func watch(ctx context.Context, addr string, filter []string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()
	return feed.Watch(ctx, conn, filter, func(u collector.Update) error {
		fmt.Println(formatUpdate(u))
		return nil
	})
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] capture.pcap\n       %s -watch host:port\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watchAddr != "" {
		var filter []string
		if *kinds != "" {
			filter = strings.Split(*kinds, ",")
		}
		if err := watch(ctx, *watchAddr, filter); err != nil && ctx.Err() == nil {
			log.Fatalf("watch: %v", err)
		}
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to open capture: %v", err)
	}
	defer f.Close()

	if err := dump(ctx, f, os.Stdout, *port, *capacity, *quiet); err != nil {
		log.Fatalf("replay failed: %v", err)
	}
}
