package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"corsair.gg/internal/admin"
	"corsair.gg/internal/logging"
	"corsair.gg/internal/persistence/flagdb"
	"corsair.gg/internal/persistence/journal"
	"corsair.gg/internal/server"
	"corsair.gg/internal/transport"
	"corsair.gg/internal/transport/ws"
	"corsair.gg/internal/tuning"
)

func main() {
	var (
		udpAddr    = flag.String("udp", ":7777", "udp game listen address")
		httpAddr   = flag.String("http", ":8080", "http listen address (ws bridge + admin)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (journal stays on)")
		logFile    = flag.String("log", "", "log file path (default: <data>/server.log)")
		debug      = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	lf := strings.TrimSpace(*logFile)
	if lf == "" {
		lf = filepath.Join(*dataDir, "server.log")
	}
	logger := logging.New(lf, *debug)
	defer logger.Sync()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Infow("tuning not found; using defaults", "path", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalw("load tuning", "err", err)
		}
	}

	jl := journal.New(*dataDir)
	defer jl.Close()

	var idx *flagdb.DB
	if !*disableDB {
		idx, err = flagdb.Open(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalw("open index backend", "err", err)
		}
		defer idx.Close()
	}

	srv := server.New(tune, logger, server.Options{Journal: jl, Flags: idx})

	ctx, cancel := signalContext()
	defer cancel()

	udp, err := transport.ListenUDP(*udpAddr, srv.Inbox(), logger)
	if err != nil {
		logger.Fatalw("listen udp", "err", err)
	}
	defer udp.Close()
	srv.SetTransport(udp)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", ws.NewBridge(srv.Inbox(), logger).Handler())
	admin.New(srv, idx, logger).Register(mux)

	httpSrv := &http.Server{
		Addr:              *httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("http listen", "err", err)
		}
	}()

	logger.Infow("listening",
		"udp", udp.LocalAddr(), "http", *httpAddr,
		"tick_hz", tune.TickRateHz, "capture_hz", tune.CaptureRateHz)

	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		logger.Errorw("server stopped", "err", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
