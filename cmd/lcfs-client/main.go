package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lioncloud/lcfs"
	"github.com/lioncloud/lcfs/internal/logging"
)

func main() {
	var (
		host    = flag.String("host", "127.0.0.1", "controller host")
		port    = flag.Int("port", 5600, "controller port")
		path    = flag.String("path", "/demo", "file path to open on the controller")
		cache   = flag.Int("cache", 128, "block cache capacity")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := &lcfs.Config{
		Host:        *host,
		Port:        *port,
		DialTimeout: 5 * time.Second,
		CacheBlocks: *cache,
		Logger:      logger,
	}
	fs := lcfs.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fh, err := fs.Open(ctx, *path)
	if err != nil {
		logger.Error("open failed", "error", err)
		os.Exit(1)
	}
	logger.Info("file opened", "path", *path, "handle", fh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		_ = fs.Shutdown(context.Background())
		os.Exit(0)
	}()

	snap := fs.Metrics().Snapshot()
	fmt.Printf("files opened: %d\n", snap.FilesOpened)
}
