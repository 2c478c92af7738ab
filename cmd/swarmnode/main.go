// Command swarmnode runs one member of the light-sensor swarm: it samples the
// light level, broadcasts it to its peers and lights the leader LED while it
// holds the highest reading.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/lightswarm/internal/api"
	"github.com/banshee-data/lightswarm/internal/config"
	"github.com/banshee-data/lightswarm/internal/feedback"
	"github.com/banshee-data/lightswarm/internal/httputil"
	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/network"
	"github.com/banshee-data/lightswarm/internal/node"
	"github.com/banshee-data/lightswarm/internal/sensor"
	"github.com/banshee-data/lightswarm/internal/serialmux"
	"github.com/banshee-data/lightswarm/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON node config (defaults are used when empty)")
	envFile     = flag.String("env", ".env", "Optional dotenv file with LIGHTSWARM_* overrides")
	devMode     = flag.Bool("dev", false, "Simulate the sensor board with a scripted light level")
	boardPath   = flag.String("board", "", "Serial device of the sensor board (overrides config)")
	iface       = flag.String("iface", "", "Network interface to bind the swarm to (overrides config)")
	listen      = flag.String("listen", "", "HTTP listen address for /metrics and /status (overrides config)")
	seed        = flag.Uint64("seed", 0, "Seed for the simulated light level (0 derives one from the swarm id)")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// devSamplePeriod is how often the simulated board emits a sample line.
const devSamplePeriod = 20 * time.Millisecond

func loadConfig() (*config.NodeConfig, error) {
	if err := config.LoadDotEnv(*envFile); err != nil {
		return nil, err
	}
	cfg := config.DefaultNodeConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadNodeConfig(*configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if *boardPath != "" {
		if cfg.Board == nil {
			cfg.Board = &config.BoardConfig{}
		}
		cfg.Board.Path = boardPath
	}
	if *iface != "" {
		cfg.Interface = iface
	}
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	return cfg, cfg.Validate()
}

// openBoard returns the serial mux the sensor and LEDs share, and the light
// source reading from it. Without a board the node runs on a noise source
// and the mux is disabled.
func openBoard(ctx context.Context, cfg *config.NodeConfig, noiseSeed uint64) (serialmux.SerialMuxInterface, sensor.Source, error) {
	switch {
	case *devMode:
		noise := sensor.NewNoiseSource(noiseSeed, sensor.MaxReading/2, 40)
		mux := serialmux.NewMockSerialMux(devSamplePeriod, func() int {
			v, _ := noise.Sample(ctx)
			return v
		})
		return mux, sensor.NewSerialSource(mux), nil
	case cfg.GetBoardPath() != "":
		mux, err := serialmux.NewRealSerialMux(cfg.GetBoardPath(), cfg.GetBoardOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open board %s: %w", cfg.GetBoardPath(), err)
		}
		return mux, sensor.NewSerialSource(mux), nil
	default:
		return serialmux.NewDisabledSerialMux(), sensor.NewNoiseSource(noiseSeed, sensor.MaxReading/2, 40), nil
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	monitoring.SetBuildInfo(version.Version, version.GitSHA)

	addr, err := network.LocalIPv4(cfg.GetInterface())
	if err != nil {
		log.Fatalf("failed to find local address: %v", err)
	}
	port := fmt.Sprint(cfg.GetPort())
	transport, err := network.ListenUDP(network.UDPConfig{
		ListenAddr:    net.JoinHostPort("", port),
		BroadcastAddr: net.JoinHostPort(cfg.GetBroadcastIP(), port),
		Interface:     cfg.GetInterface(),
		TTL:           1,
		PollTimeout:   cfg.GetPollTimeout(),
	})
	if err != nil {
		log.Fatalf("failed to open swarm socket: %v", err)
	}
	defer transport.Close()

	cal, err := cfg.Calibration()
	if err != nil {
		log.Fatalf("invalid calibration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	noiseSeed := *seed
	if noiseSeed == 0 {
		noiseSeed = uint64(addr.To4()[3]) + 1
	}
	board, source, err := openBoard(ctx, cfg, noiseSeed)
	if err != nil {
		log.Fatal(err)
	}
	defer board.Close()
	if err := board.Initialise(); err != nil {
		log.Fatalf("failed to initialise board: %v", err)
	}

	var indicator, leaderLED feedback.Output = feedback.LogOutput{Name: "indicator"}, feedback.LogOutput{Name: "leader"}
	if *devMode || cfg.GetBoardPath() != "" {
		indicator = feedback.NewSerialOutput(board, cfg.GetIndicatorChannel())
		leaderLED = feedback.NewSerialOutput(board, cfg.GetLeaderChannel())
	}

	n, err := node.New(cfg.NodeTimings(), node.Deps{
		Transport: transport,
		Source:    source,
		Feedback:  feedback.NewDriver(indicator, leaderLED, cal),
		Addr:      addr,
		OnRoleChange: func(leader bool) {
			log.Printf("leader=%v", leader)
		},
	})
	if err != nil {
		log.Fatalf("failed to create node: %v", err)
	}
	log.Printf("swarmnode %s id=%d addr=%s port=%s", version.String(), n.ID(), addr, port)

	var wg sync.WaitGroup

	// serial IO and sample parsing
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := board.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor board: %v", err)
		}
		log.Print("monitor routine terminated")
	}()
	if src, ok := source.(*sensor.SerialSource); ok {
		src.Start(ctx)
	}

	// election loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("node stopped: %v", err)
			stop()
		}
		log.Print("node routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.MetricsHandler())
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			if httputil.RequireMethod(w, r, http.MethodGet) {
				httputil.WriteJSON(w, http.StatusOK, n.Status())
			}
		})
		board.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    cfg.GetListenAddr(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
