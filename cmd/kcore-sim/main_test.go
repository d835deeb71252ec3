package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	kcore "github.com/behrlich/go-kcore"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") failed: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("empty path should yield defaults (-want +got):\n%s", diff)
	}
}

func TestLoadConfigHuJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.hujson")
	content := `{
		// simulation geometry
		"device": "file",
		"image": "/tmp/disk.img",
		"num_blocks": 128,
		"block_size": 512,
		"procs": 2,
		"rounds": 10, // trailing comma next
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	want := DefaultConfig()
	want.Device = "file"
	want.Image = "/tmp/disk.img"
	want.NumBlocks = 128
	want.BlockSize = 512
	want.Procs = 2
	want.Rounds = 10
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigBadFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.hujson")); err == nil {
		t.Error("expected an error for a missing config file")
	}

	path := filepath.Join(t.TempDir(), "broken.hujson")
	if err := os.WriteFile(path, []byte("{{{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Error("expected an error for malformed config")
	}
}

func TestWorkloadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBlocks = 64
	cfg.NumBuffers = 16
	cfg.Procs = 2
	cfg.Rounds = 8
	cfg.Seed = 1

	dev := blockdevForTest(cfg)
	metrics := kcore.NewMetrics()
	k := kcore.New(kcore.Params{
		NumBuffers: cfg.NumBuffers,
		BlockSize:  cfg.BlockSize,
		Seed:       cfg.Seed,
		Observer:   metrics,
	})
	k.RegisterDevice(1, dev)

	for i := 0; i < cfg.Procs; i++ {
		proc := i
		k.Spawn(proc%5, func() { workload(k, cfg, proc) })
	}
	k.Run()
	k.SyncAll()

	snap := metrics.Snapshot()
	if snap.DeviceReads == 0 {
		t.Error("workload issued no device reads")
	}
	if snap.DeviceWrites == 0 {
		t.Error("workload issued no device writes")
	}
}

func blockdevForTest(cfg Config) kcore.BlockDevice {
	dev, err := openDevice(cfg)
	if err != nil {
		panic(err)
	}
	return dev
}
