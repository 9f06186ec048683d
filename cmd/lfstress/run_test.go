package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	return Config{
		Workers:      4,
		Ops:          2000,
		MaxHeld:      32,
		MinBlockSize: 16,
		MaxBlockSize: 2048,
		OversizeRate: 0.01,
		Seed:         7,
	}
}

func TestStress(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "misuse detection", modify: func(c *Config) { c.MisuseDetection = true }},
		{name: "single worker", modify: func(c *Config) { c.Workers = 1 }},
		{name: "tiny classes", modify: func(c *Config) { c.MinBlockSize, c.MaxBlockSize = 8, 256 }},
		{name: "no oversize", modify: func(c *Config) { c.OversizeRate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.modify(&cfg)

			res, err := Stress(context.Background(), cfg)
			require.NoError(t, err)

			assert.Equal(t, cfg.Workers, res.Workers)
			assert.Equal(t, res.Allocs, res.Frees)
			assert.Positive(t, res.Allocs)
			assert.Zero(t, res.Stats.InFlight)
			assert.Equal(t, res.Stats.TotalAllocs, res.Stats.TotalFrees)
		})
	}
}

func TestStressInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Workers = 0
	_, err := Stress(context.Background(), cfg)
	assert.Error(t, err)

	cfg = smallConfig()
	cfg.MinBlockSize = 0
	_, err = Stress(context.Background(), cfg)
	assert.Error(t, err)
}

func TestStressMemoryLimit(t *testing.T) {
	cfg := smallConfig()
	cfg.MemoryLimit = 64 << 10

	res, err := Stress(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, res.Allocs, res.Frees)
}

func TestStressDuration(t *testing.T) {
	cfg := smallConfig()
	cfg.Ops = 1 << 30
	cfg.Duration = 50 * time.Millisecond

	res, err := Stress(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, res.Allocs, res.Frees)
}

func TestTraceRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(string(codec), func(t *testing.T) {
			var buf bytes.Buffer
			tw, err := NewTraceWriter(&buf, codec)
			require.NoError(t, err)

			require.NoError(t, tw.Write(Event{Worker: 1, Seq: 0, Op: "alloc", Size: 64, Ptr: 0x1000}))
			require.NoError(t, tw.Write(Event{Worker: 1, Seq: 1, Op: "free", Size: 64, Ptr: 0x1000}))
			require.NoError(t, tw.Write(Event{Worker: 2, Seq: 0, Op: "alloc", Size: 99, Err: "out of memory"}))
			require.NoError(t, tw.Close())

			s, err := Summarize(&buf, codec)
			require.NoError(t, err)
			assert.Equal(t, 3, s.Events)
			assert.Equal(t, 2, s.Allocs)
			assert.Equal(t, 1, s.Frees)
			assert.Equal(t, uintptr(99), s.MaxRequest)
			assert.Equal(t, map[int]int{1: 2, 2: 1}, s.PerWorker)
			assert.Equal(t, map[string]int{"out of memory": 1}, s.Errors)
		})
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{in: "", want: CodecNone},
		{in: "none", want: CodecNone},
		{in: "ZSTD", want: CodecZstd},
		{in: "lz4", want: CodecLZ4},
		{in: "gzip", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCodec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, CodecZstd, codecFromPath("run.jsonl.zst"))
	assert.Equal(t, CodecLZ4, codecFromPath("run.lz4"))
	assert.Equal(t, CodecNone, codecFromPath("run.jsonl"))
}

func TestRunCommandWithTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl.zst")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "--workers", "2", "--ops", "500", "--max-block", "1024",
		"--trace", path, "--json"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		runTracePath, jsonOut = "", false
	})

	require.NoError(t, rootCmd.Execute())

	var res Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, 2, res.Workers)
	assert.Equal(t, res.Allocs, res.Frees)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	s, err := Summarize(f, CodecZstd)
	require.NoError(t, err)
	assert.Equal(t, int(res.Allocs+res.Frees+res.OOM), s.Events)
}
