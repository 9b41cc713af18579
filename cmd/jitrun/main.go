// Command jitrun drives a small built-in trace against the jitgraph
// runtime and prints the evaluated result: it builds the trace itself
// from flags and reports what came out, exercising the same
// init/trace/eval/read path a real embedder would.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"runtime"

	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/kernels"
	jitgraphrt "github.com/brindleforge/jitgraph/runtime"
)

func main() {
	var (
		size    = flag.Int("size", 16, "Number of elements in the trace")
		scalar  = flag.Float64("scalar", 1.5, "Scalar value broadcast against the counter")
		verbose = flag.Bool("verbose", false, "Enable verbose output")
		version = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("jitrun - jitgraph trace runner v1.0.0")
		fmt.Printf("Built with Go %s\n", runtime.Version())
		return
	}
	if *size <= 0 {
		fmt.Fprintln(os.Stderr, "size must be positive")
		os.Exit(1)
	}

	ctx, err := jitgraphrt.Init(jitgraphrt.DefaultOptions())
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer func() {
		if err := ctx.Shutdown(false); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	stream, err := ctx.DeviceSet(-1, 0)
	if err != nil {
		log.Fatalf("device_set failed: %v", err)
	}

	if *verbose {
		fmt.Printf("jitrun: %d elements, scalar=%v\n", *size, *scalar)
	}

	// Build "result = counter(size) + scalar".
	scalarID, err := ctx.CopyToDevice(stream, core.Float32, float32Bytes(float32(*scalar)))
	if err != nil {
		log.Fatalf("copy_to_device failed: %v", err)
	}
	counterID, err := ctx.TraceAppend(stream, core.Float32, kernels.OpCounter, [core.MaxDeps]core.ID{}, *size)
	if err != nil {
		log.Fatalf("trace_append(counter) failed: %v", err)
	}
	sumID, err := ctx.TraceAppend(stream, core.Float32, kernels.OpAdd, [core.MaxDeps]core.ID{counterID, scalarID}, 0)
	if err != nil {
		log.Fatalf("trace_append(add) failed: %v", err)
	}

	if _, err := ctx.Eval(stream); err != nil {
		log.Fatalf("eval failed: %v", err)
	}

	str, err := ctx.Str(stream, sumID)
	if err != nil {
		log.Fatalf("str failed: %v", err)
	}
	fmt.Println(str)
}

func float32Bytes(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}
