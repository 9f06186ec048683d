package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var inspectCodec string

func init() {
	cmd := newInspectCmd()
	cmd.Flags().StringVar(&inspectCodec, "codec", "", "Trace compression: none, zstd or lz4 (default from extension)")
	rootCmd.AddCommand(cmd)
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <trace>",
		Short: "Summarize a trace written by run",
		Long: `The inspect command reads a trace written by run --trace and prints
operation counts per worker, failed operations and the largest request.

Example:
  lfstress inspect run.jsonl.zst
  lfstress inspect run.trace --codec lz4 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], cmd.OutOrStdout())
		},
	}
	return cmd
}

// TraceSummary aggregates the events of a trace.
type TraceSummary struct {
	Events     int            `json:"events"`
	Allocs     int            `json:"allocs"`
	Frees      int            `json:"frees"`
	Errors     map[string]int `json:"errors,omitempty"`
	PerWorker  map[int]int    `json:"per_worker"`
	MaxRequest uintptr        `json:"max_request"`
}

// Summarize reads a trace from r.
func Summarize(r io.Reader, codec Codec) (*TraceSummary, error) {
	s := &TraceSummary{PerWorker: make(map[int]int)}

	err := ReadTrace(r, codec, func(ev Event) error {
		s.Events++
		s.PerWorker[ev.Worker]++
		switch ev.Op {
		case "alloc":
			s.Allocs++
			s.MaxRequest = max(s.MaxRequest, ev.Size)
		case "free":
			s.Frees++
		}
		if ev.Err != "" {
			if s.Errors == nil {
				s.Errors = make(map[string]int)
			}
			s.Errors[ev.Err]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

func runInspect(path string, out io.Writer) error {
	codec := codecFromPath(path)
	if inspectCodec != "" {
		var err error
		if codec, err = ParseCodec(inspectCodec); err != nil {
			return err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	s, err := Summarize(f, codec)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(out, s)
	}

	printInfo(out, "events: %d  allocs: %d  frees: %d  largest request: %d\n",
		s.Events, s.Allocs, s.Frees, s.MaxRequest)

	workers := make([]int, 0, len(s.PerWorker))
	for w := range s.PerWorker {
		workers = append(workers, w)
	}
	sort.Ints(workers)
	for _, w := range workers {
		printVerbose(out, "  worker %d: %d events\n", w, s.PerWorker[w])
	}
	for msg, n := range s.Errors {
		printInfo(out, "  %dx %s\n", n, msg)
	}

	return nil
}
