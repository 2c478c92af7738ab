// Command collector runs the swarm base station. It records leader reports in
// SQLite, shows the current leader on its LED board, serves the history over
// HTTP and streams live updates over gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/lightswarm/internal/api"
	"github.com/banshee-data/lightswarm/internal/collector"
	"github.com/banshee-data/lightswarm/internal/config"
	"github.com/banshee-data/lightswarm/internal/feed"
	"github.com/banshee-data/lightswarm/internal/feedback"
	"github.com/banshee-data/lightswarm/internal/monitoring"
	"github.com/banshee-data/lightswarm/internal/network"
	"github.com/banshee-data/lightswarm/internal/serialmux"
	"github.com/banshee-data/lightswarm/internal/store"
	"github.com/banshee-data/lightswarm/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON collector config (defaults are used when empty)")
	envFile     = flag.String("env", ".env", "Optional dotenv file with LIGHTSWARM_* overrides")
	boardPath   = flag.String("board", "", "Serial device of the LED board (overrides config)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen  = flag.String("grpc", "", "gRPC listen address for the live feed (overrides config)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig() (*config.CollectorConfig, error) {
	if err := config.LoadDotEnv(*envFile); err != nil {
		return nil, err
	}
	cfg := config.DefaultCollectorConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadCollectorConfig(*configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if *boardPath != "" {
		if cfg.Board == nil {
			cfg.Board = &config.CollectorBoardConfig{}
		}
		cfg.Board.Path = boardPath
	}
	if *listen != "" {
		cfg.HTTPAddr = listen
	}
	if *grpcListen != "" {
		cfg.GRPCAddr = grpcListen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, cfg.Validate()
}

// openBoard returns the LED board and one output per blink channel plus the
// reset indicator. Without a board the collector logs LED changes instead.
func openBoard(cfg *config.CollectorConfig) (serialmux.SerialMuxInterface, []feedback.Output, feedback.Output, error) {
	if cfg.GetBoardPath() == "" {
		return serialmux.NewDisabledSerialMux(), nil, nil, nil
	}
	board, err := serialmux.NewRealSerialMux(cfg.GetBoardPath(), cfg.GetBoardOptions())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open board %s: %w", cfg.GetBoardPath(), err)
	}
	leds := make([]feedback.Output, cfg.GetLEDChannels())
	for i := range leds {
		leds[i] = feedback.NewSerialOutput(board, strconv.Itoa(i))
	}
	return board, leds, feedback.NewSerialOutput(board, cfg.GetResetChannel()), nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	monitoring.SetBuildInfo(version.Version, version.GitSHA)

	st, err := store.NewStore(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	port := fmt.Sprint(cfg.GetPort())
	udpCfg := network.DefaultUDPConfig(cfg.GetPort())
	udpCfg.BroadcastAddr = net.JoinHostPort(cfg.GetBroadcastIP(), port)
	transport, err := network.ListenUDP(udpCfg)
	if err != nil {
		log.Fatalf("failed to open swarm socket: %v", err)
	}
	defer transport.Close()

	board, leds, resetLED, err := openBoard(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer board.Close()
	if err := board.Initialise(); err != nil {
		log.Fatalf("failed to initialise board: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	col, err := collector.New(ctx, collector.Config{
		Capacity:       cfg.GetCapacity(),
		LEDChannels:    cfg.GetLEDChannels(),
		ResetPause:     cfg.GetResetPause(),
		StatusInterval: cfg.GetStatusInterval(),
	}, collector.Deps{
		Transport: transport,
		History:   st,
		LEDs:      leds,
		ResetLED:  resetLED,
	})
	if err != nil {
		log.Fatalf("failed to create collector: %v", err)
	}
	log.Printf("collector %s listening on udp %s, session %s", version.String(), port, col.Status().Session)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := board.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor board: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// reset button on the LED board
	wg.Add(1)
	go func() {
		defer wg.Done()
		col.WatchBoard(ctx, board)
		log.Print("button routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := col.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("collector stopped: %v", err)
			stop()
		}
		log.Print("collector routine terminated")
	}()

	// gRPC live feed
	wg.Add(1)
	go func() {
		defer wg.Done()
		lis, err := net.Listen("tcp", cfg.GetGRPCAddr())
		if err != nil {
			log.Printf("failed to listen for gRPC on %s: %v", cfg.GetGRPCAddr(), err)
			return
		}
		g := grpc.NewServer()
		feed.NewServer(col).Register(g)
		go func() {
			if err := g.Serve(lis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
		log.Printf("live feed on %s", lis.Addr())

		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			g.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(time.Second):
			g.Stop()
		}
		log.Printf("gRPC server routine stopped")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(col, st).ServeMux()
		if err := st.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		board.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    cfg.GetHTTPAddr(),
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
