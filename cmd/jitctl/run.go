package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/kernels"
	jitgraphrt "github.com/brindleforge/jitgraph/runtime"
)

func newRunCmd() *cobra.Command {
	var (
		size   int
		scalar float64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Trace, evaluate, and print a scalar-broadcast-plus-counter scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := jitgraphrt.Init(runtimeOptions())
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer ctx.Shutdown(false)

			stream, err := ctx.DeviceSet(-1, 0)
			if err != nil {
				return fmt.Errorf("device_set: %w", err)
			}

			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(scalar)))
			scalarID, err := ctx.CopyToDevice(stream, core.Float32, b)
			if err != nil {
				return fmt.Errorf("copy_to_device: %w", err)
			}
			counterID, err := ctx.TraceAppend(stream, core.Float32, kernels.OpCounter, [core.MaxDeps]core.ID{}, size)
			if err != nil {
				return fmt.Errorf("trace_append(counter): %w", err)
			}
			sumID, err := ctx.TraceAppend(stream, core.Float32, kernels.OpAdd, [core.MaxDeps]core.ID{counterID, scalarID}, 0)
			if err != nil {
				return fmt.Errorf("trace_append(add): %w", err)
			}
			stats, err := ctx.Eval(stream)
			if err != nil {
				return fmt.Errorf("eval: %w", err)
			}
			str, err := ctx.Str(stream, sumID)
			if err != nil {
				return fmt.Errorf("str: %w", err)
			}
			fmt.Printf("result: %s\n", str)
			fmt.Printf("stats: partitions=%d mem_hits=%d disk_hits=%d compiles=%d\n",
				stats.Partitions, stats.MemHits, stats.DiskHits, stats.Compiles)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 16, "Number of elements in the trace")
	cmd.Flags().Float64Var(&scalar, "scalar", 1.5, "Scalar value broadcast against the counter")
	return cmd
}
