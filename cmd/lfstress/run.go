package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unsafe"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lfalloc"
	"github.com/hupe1980/lfalloc/internal/conv"
	"github.com/hupe1980/lfalloc/testutil"
)

// Config describes one stress run.
type Config struct {
	Workers         int
	Ops             int
	MaxHeld         int
	MinBlockSize    uintptr
	MaxBlockSize    uintptr
	MaxRequest      int
	OversizeRate    float64
	Seed            int64
	MemoryLimit     int64
	MisuseDetection bool
	Duration        time.Duration
	Trace           *TraceWriter
	Logger          *lfalloc.Logger
}

// Result summarizes a stress run.
type Result struct {
	Seed      int64         `json:"seed"`
	Workers   int           `json:"workers"`
	Allocs    int64         `json:"allocs"`
	Frees     int64         `json:"frees"`
	OOM       int64         `json:"out_of_memory"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	OpsPerSec float64       `json:"ops_per_sec"`
	Stats     lfalloc.Stats `json:"stats"`
}

var runCfg = Config{
	Workers:      8,
	Ops:          100000,
	MaxHeld:      256,
	MinBlockSize: lfalloc.DefaultMinBlockSize,
	MaxBlockSize: lfalloc.DefaultMaxBlockSize,
	OversizeRate: 0.001,
	Seed:         1,
}

var (
	runMinBlock   uint64 = lfalloc.DefaultMinBlockSize
	runMaxBlock   uint64 = lfalloc.DefaultMaxBlockSize
	runTracePath  string
	runTraceCodec string
)

func init() {
	cmd := newRunCmd()
	f := cmd.Flags()
	f.IntVarP(&runCfg.Workers, "workers", "w", runCfg.Workers, "Number of concurrent workers")
	f.IntVarP(&runCfg.Ops, "ops", "n", runCfg.Ops, "Operations per worker")
	f.IntVar(&runCfg.MaxHeld, "max-held", runCfg.MaxHeld, "Maximum blocks held per worker")
	f.Uint64Var(&runMinBlock, "min-block", runMinBlock, "Smallest size class payload")
	f.Uint64Var(&runMaxBlock, "max-block", runMaxBlock, "Largest size class payload")
	f.IntVar(&runCfg.MaxRequest, "max-request", 0, "Largest regular request size (0 = max-block)")
	f.Float64Var(&runCfg.OversizeRate, "oversize-rate", runCfg.OversizeRate, "Fraction of requests above the largest class")
	f.Int64Var(&runCfg.Seed, "seed", runCfg.Seed, "Random seed")
	f.Int64Var(&runCfg.MemoryLimit, "memory-limit", 0, "Memory budget in bytes (0 = unlimited)")
	f.BoolVar(&runCfg.MisuseDetection, "misuse-detection", false, "Track live blocks to reject double frees")
	f.DurationVar(&runCfg.Duration, "duration", 0, "Stop after this long (0 = run all ops)")
	f.StringVar(&runTracePath, "trace", "", "Write a JSON-lines trace of every operation to this file")
	f.StringVar(&runTraceCodec, "trace-codec", "", "Trace compression: none, zstd or lz4 (default from extension)")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a randomized stress workload",
		Long: `The run command starts a number of workers that allocate and free
blocks of random sizes. Each block is filled with a worker tag that is checked
before the block is freed. When all workers finish, the allocator is verified
and its statistics are printed.

Example:
  lfstress run --workers 16 --ops 1000000
  lfstress run --max-block 4096 --oversize-rate 0.01 --misuse-detection
  lfstress run --trace run.jsonl.zst --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), cmd.OutOrStdout())
		},
	}
	return cmd
}

func runRun(ctx context.Context, out io.Writer) (err error) {
	cfg := runCfg
	if cfg.MinBlockSize, err = conv.Uint64ToUintptr(runMinBlock); err != nil {
		return err
	}
	if cfg.MaxBlockSize, err = conv.Uint64ToUintptr(runMaxBlock); err != nil {
		return err
	}

	if runTracePath != "" {
		codec := codecFromPath(runTracePath)
		if runTraceCodec != "" {
			var err error
			if codec, err = ParseCodec(runTraceCodec); err != nil {
				return err
			}
		}
		tw, err := CreateTrace(runTracePath, codec)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, tw.Close()) }()
		cfg.Trace = tw
		printVerbose(out, "Tracing to %s (%s)\n", runTracePath, codec)
	}

	if verbose {
		cfg.Logger = lfalloc.NewTextLogger(slog.LevelDebug)
	}

	res, err := Stress(ctx, cfg)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(out, res)
	}

	printInfo(out, "seed %d, %d workers\n", res.Seed, res.Workers)
	printInfo(out, "allocs: %d  frees: %d  out of memory: %d\n", res.Allocs, res.Frees, res.OOM)
	printInfo(out, "elapsed: %s  (%.0f ops/s)\n", res.Elapsed, res.OpsPerSec)
	printInfo(out, "chunks: %d  reserved: %d  oversize: %d/%d\n",
		res.Stats.Chunks, res.Stats.ReservedBytes, res.Stats.OversizeAllocs, res.Stats.OversizeFrees)
	for _, c := range res.Stats.Classes {
		if c.Splits == 0 && c.Merges == 0 {
			continue
		}
		printVerbose(out, "  class %2d (%7d B): splits %d merges %d free %d\n",
			c.Class, c.BlockSize, c.Splits, c.Merges, c.FreeBlocks)
	}
	printInfo(out, "verify: ok\n")

	return nil
}

type held struct {
	p    unsafe.Pointer
	size int
}

type workerResult struct {
	allocs, frees, oom int64
}

// Stress runs cfg against a fresh allocator and verifies it afterwards.
func Stress(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Workers <= 0 || cfg.Ops <= 0 || cfg.MaxHeld <= 0 || cfg.MaxRequest < 0 {
		return nil, errors.New("workers, ops and max-held must be positive")
	}
	maxBlock, err := conv.UintptrToInt(cfg.MaxBlockSize)
	if err != nil {
		return nil, err
	}
	if cfg.MaxRequest == 0 {
		cfg.MaxRequest = maxBlock
	}

	opts := []lfalloc.Option{
		lfalloc.WithMinBlockSize(cfg.MinBlockSize),
		lfalloc.WithMaxBlockSize(cfg.MaxBlockSize),
		lfalloc.WithMemoryLimit(cfg.MemoryLimit),
		lfalloc.WithMisuseDetection(cfg.MisuseDetection),
	}
	if cfg.Logger != nil {
		opts = append(opts, lfalloc.WithLogger(cfg.Logger))
	}

	a, err := lfalloc.New(opts...)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	rng := testutil.NewRNG(cfg.Seed)
	results := make([]workerResult, cfg.Workers)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		r := rng.Fork()
		g.Go(func() error {
			return worker(gctx, a, cfg, w, r, &results[w])
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	elapsed := time.Since(start)

	if err := a.Verify(); err != nil {
		return nil, fmt.Errorf("verify failed: %w", err)
	}

	res := &Result{
		Seed:    cfg.Seed,
		Workers: cfg.Workers,
		Elapsed: elapsed,
		Stats:   a.Stats(),
	}
	for _, wr := range results {
		res.Allocs += wr.allocs
		res.Frees += wr.frees
		res.OOM += wr.oom
	}
	if s := elapsed.Seconds(); s > 0 {
		res.OpsPerSec = float64(res.Allocs+res.Frees) / s
	}

	if st := res.Stats; st.InFlight != 0 || st.FreeBytes != st.ReservedBytes {
		return res, fmt.Errorf("allocator not settled: in flight %d, free %d of %d bytes",
			st.InFlight, st.FreeBytes, st.ReservedBytes)
	}

	return res, nil
}

func worker(ctx context.Context, a *lfalloc.Allocator, cfg Config, id int, r *testutil.RNG, wr *workerResult) error {
	tag := byte(id + 1)
	blocks := make([]held, 0, cfg.MaxHeld)

	trace := func(seq int, op string, size int, p unsafe.Pointer, err error) error {
		if cfg.Trace == nil {
			return nil
		}
		ev := Event{Worker: id, Seq: seq, Op: op, Size: uintptr(size), Ptr: uintptr(p)}
		if err != nil {
			ev.Err = err.Error()
		}
		return cfg.Trace.Write(ev)
	}

	free := func(seq, k int) error {
		b := blocks[k]
		s := unsafe.Slice((*byte)(b.p), b.size)
		for i, c := range s {
			if c != tag {
				return fmt.Errorf("worker %d: block %p byte %d overwritten (%#x)", id, b.p, i, c)
			}
		}
		err := a.Deallocate(b.p)
		if terr := trace(seq, "free", b.size, b.p, err); terr != nil {
			return terr
		}
		if err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		wr.frees++
		blocks[k] = blocks[len(blocks)-1]
		blocks = blocks[:len(blocks)-1]
		return nil
	}

	defer func() {
		for len(blocks) > 0 {
			_ = free(-1, len(blocks)-1)
		}
	}()

	for seq := 0; seq < cfg.Ops; seq++ {
		if seq%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if len(blocks) > 0 && (len(blocks) == cfg.MaxHeld || r.Intn(2) == 0) {
			if err := free(seq, r.Intn(len(blocks))); err != nil {
				return err
			}
			continue
		}

		size := r.LogUniform(1, cfg.MaxRequest)
		if r.Float64() < cfg.OversizeRate {
			size = int(cfg.MaxBlockSize) + 1 + r.Intn(int(cfg.MaxBlockSize))
		}

		p, err := a.Allocate(uintptr(size), lfalloc.MaxAlign)
		if terr := trace(seq, "alloc", size, p, err); terr != nil {
			return terr
		}
		if errors.Is(err, lfalloc.ErrOutOfMemory) {
			wr.oom++
			continue
		}
		if err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		wr.allocs++

		s := unsafe.Slice((*byte)(p), size)
		for i := range s {
			s[i] = tag
		}
		blocks = append(blocks, held{p: p, size: size})
	}

	return nil
}
