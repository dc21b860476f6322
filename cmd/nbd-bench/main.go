// Command nbd-bench opens one or more connections against an NBD
// endpoint and issues reads/writes at a configured queue depth,
// printing a metrics snapshot on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nbd-go/nbdclient"
	"github.com/nbd-go/nbdclient/internal/logging"
)

func main() {
	var (
		network   = flag.String("network", "tcp", `"tcp" or "unix"`)
		addr      = flag.String("addr", "127.0.0.1:10809", "endpoint to dial")
		conns     = flag.Int("conns", 1, "number of parallel connections")
		depth     = flag.Int("depth", 16, "in-flight commands per connection")
		sizeStr   = flag.String("size", "1M", "export size to assume for offset generation (e.g. 64M, 1G)")
		blockSize = flag.Int("block-size", 4096, "I/O size per command, bytes")
		pattern   = flag.String("pattern", "read", `"read", "write", or "mixed"`)
		duration  = flag.Duration("duration", 10*time.Second, "how long to run before reporting and exiting")
		verbose   = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid -size %q: %v", *sizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := nbdclient.DefaultHandleConfig()
	cfg.NumConns = *conns
	cfg.Conn.MaxInFlight = *depth
	cfg.Conn.Logger = logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("dialing", "network", *network, "addr", *addr, "conns", *conns, "depth", *depth)
	h, err := nbdclient.Connect(ctx, *network, *addr, cfg)
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	var completed, failed, outstanding int64
	for i := 0; i < h.NumConns(); i++ {
		h.Conn(i).OnComplete(func(cmd *nbdclient.Command, data []byte, err error) {
			atomic.AddInt64(&outstanding, -1)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				return
			}
			atomic.AddInt64(&completed, 1)
		})
	}

	h.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopGen := make(chan struct{})
	genDone := make(chan struct{})
	go func() {
		defer close(genDone)
		generateLoad(h, *pattern, size, uint32(*blockSize), int64(*depth)*int64(*conns), &outstanding, stopGen)
	}()

	select {
	case <-time.After(*duration):
		logger.Info("duration elapsed, winding down")
	case <-sigCh:
		logger.Info("received shutdown signal")
	}

	close(stopGen)
	<-genDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	cancelled, err := h.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error("shutdown reported an error", "error", err)
	}

	snap := h.MetricsSnapshot()
	fmt.Printf("completed=%d failed=%d cancelled=%d\n", completed, failed, len(cancelled))
	fmt.Printf("read: ops=%d bytes=%d iops=%.1f bandwidth=%.1f B/s\n", snap.ReadOps, snap.ReadBytes, snap.ReadIOPS, snap.ReadBandwidth)
	fmt.Printf("write: ops=%d bytes=%d iops=%.1f bandwidth=%.1f B/s\n", snap.WriteOps, snap.WriteBytes, snap.WriteIOPS, snap.WriteBandwidth)
	fmt.Printf("latency: avg=%dns p50=%dns p99=%dns p999=%dns\n", snap.AvgLatencyNs, snap.LatencyP50Ns, snap.LatencyP99Ns, snap.LatencyP999Ns)
	fmt.Printf("in-flight: avg=%.1f max=%d\n", snap.AvgInFlightDepth, snap.MaxInFlightDepth)
}

// generateLoad tops up to inFlight commands outstanding across h's
// connections until stop is closed, picking a random block-aligned
// offset within size for each command. outstanding is incremented here
// and decremented by the OnComplete callbacks registered in main.
func generateLoad(h *nbdclient.Handle, pattern string, size uint64, blockSize uint32, inFlight int64, outstanding *int64, stop <-chan struct{}) {
	rng := rand.New(rand.NewSource(1))
	maxOffset := size - uint64(blockSize)
	if size < uint64(blockSize) {
		maxOffset = 0
	}
	buf := make([]byte, blockSize)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for atomic.LoadInt64(outstanding) < inFlight {
				offset := uint64(0)
				if maxOffset > 0 {
					offset = (rng.Uint64() % (maxOffset / uint64(blockSize))) * uint64(blockSize)
				}
				cmdType := nbdclient.CmdRead
				switch pattern {
				case "write":
					cmdType = nbdclient.CmdWrite
				case "mixed":
					if rng.Intn(2) == 0 {
						cmdType = nbdclient.CmdWrite
					}
				}
				var data []byte
				if cmdType == nbdclient.CmdWrite {
					data = buf
				}
				if _, _, err := h.EnqueueRoutable(cmdType, 0, offset, blockSize, data); err != nil {
					break
				}
				atomic.AddInt64(outstanding, 1)
			}
		}
	}
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (uint64, error) {
	s = strings.ToUpper(s)

	var multiplier uint64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}
