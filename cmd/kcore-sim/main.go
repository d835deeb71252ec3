// kcore-sim boots a kernel core over a memory or file-backed device and
// drives it with a configurable process workload, then reports cache and
// scheduler statistics.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	kcore "github.com/behrlich/go-kcore"
	"github.com/behrlich/go-kcore/blockdev"
	"github.com/behrlich/go-kcore/internal/logging"
)

// Config holds the simulator configuration. The config file is HuJSON, so
// comments and trailing commas are allowed.
type Config struct {
	Device     string `json:"device"` // "memory", "file" or "uring"
	Image      string `json:"image,omitempty"`
	NumBlocks  int64  `json:"num_blocks"`
	BlockSize  int    `json:"block_size"`
	NumBuffers int    `json:"num_buffers"`
	Procs      int    `json:"procs"`
	Rounds     int    `json:"rounds"`
	Seed       uint32 `json:"seed,omitempty"`
	Report     string `json:"report,omitempty"`
}

// DefaultConfig returns the default simulation parameters
func DefaultConfig() Config {
	return Config{
		Device:     "memory",
		NumBlocks:  4096,
		BlockSize:  kcore.DefaultBlockSize,
		NumBuffers: kcore.DefaultNumBuffers,
		Procs:      8,
		Rounds:     64,
	}
}

// loadConfig overlays a HuJSON config file onto the defaults
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	var (
		configPath = pflag.String("config", "", "HuJSON config file")
		device     = pflag.String("device", "", "device driver: memory, file or uring")
		image      = pflag.String("image", "", "image path for file/uring devices")
		procs      = pflag.Int("procs", 0, "number of workload processes")
		rounds     = pflag.Int("rounds", 0, "read/modify/write rounds per process")
		seed       = pflag.Uint32("seed", 0, "lottery seed (0 = from clock)")
		report     = pflag.String("report", "", "write a JSON metrics report to this path")
		verbose    = pflag.BoolP("verbose", "v", false, "verbose output")
	)
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *image != "" {
		cfg.Image = *image
	}
	if *procs > 0 {
		cfg.Procs = *procs
	}
	if *rounds > 0 {
		cfg.Rounds = *rounds
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *report != "" {
		cfg.Report = *report
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Errorf("simulation failed: %v", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *logging.Logger) error {
	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	metrics := kcore.NewMetrics()
	k := kcore.New(kcore.Params{
		NumBuffers: cfg.NumBuffers,
		BlockSize:  cfg.BlockSize,
		Seed:       cfg.Seed,
		Logger:     logger,
		Observer:   metrics,
	})
	k.RegisterDevice(1, dev)

	logger.Infof("booted device=%s blocks=%d buffers=%d procs=%d rounds=%d",
		cfg.Device, cfg.NumBlocks, cfg.NumBuffers, cfg.Procs, cfg.Rounds)

	for i := 0; i < cfg.Procs; i++ {
		proc := i
		k.Spawn(proc%5, func() {
			workload(k, cfg, proc)
		})
	}
	k.Run()
	k.SyncAll()

	snap := metrics.Snapshot()
	fmt.Printf("cache: %d hits / %d misses (%.1f%% hit rate), %d evictions\n",
		snap.CacheHits, snap.CacheMisses, snap.HitRate, snap.Evictions)
	fmt.Printf("device: %d reads, %d writes\n", snap.DeviceReads, snap.DeviceWrites)
	fmt.Printf("sched: %d switches (%d idle), %d lottery draws, avg pool %.1f tickets, %d compensations\n",
		snap.ContextSwitches, snap.IdleSwitches, snap.LotteryDraws, snap.AvgTickets, snap.Compensations)

	if cfg.Report != "" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		if err := atomic.WriteFile(cfg.Report, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("writing report %s: %w", cfg.Report, err)
		}
		logger.Infof("wrote report to %s", cfg.Report)
	}
	return nil
}

// workload is one process body: walk a strided slice of the device,
// read/modify/write each block, and yield between rounds so the lottery
// interleaves the processes. Writes go through synchronously — dirty
// buffers left in the pool would eventually reach the free-list head,
// which is fatal while write-back is synchronous.
func workload(k *kcore.Kernel, cfg Config, proc int) {
	for r := 0; r < cfg.Rounds; r++ {
		num := int64((proc*cfg.Rounds+r)%int(cfg.NumBlocks-1)) + 1
		b := k.ReadBlock(1, num)
		b.Data()[0] = byte(proc)
		b.MarkDirty()
		k.WriteBlock(b)
		k.Release(b)
		k.Yield()
	}
}

func openDevice(cfg Config) (kcore.BlockDevice, error) {
	switch cfg.Device {
	case "", "memory":
		return blockdev.NewMemory(cfg.NumBlocks, cfg.BlockSize), nil
	case "file":
		if cfg.Image == "" {
			return nil, fmt.Errorf("file device requires --image")
		}
		return blockdev.OpenFile(cfg.Image, cfg.NumBlocks, cfg.BlockSize)
	case "uring":
		if cfg.Image == "" {
			return nil, fmt.Errorf("uring device requires --image")
		}
		return blockdev.OpenUring(cfg.Image, cfg.NumBlocks, cfg.BlockSize)
	default:
		return nil, fmt.Errorf("unknown device %q", cfg.Device)
	}
}
