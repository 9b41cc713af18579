// Command jitbench times jitgraph's collective kernels: generate data,
// run it in a loop, report throughput.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/kernels"
)

var (
	testType = flag.String("test", "all", "Test type: all, reduce, scan, mkperm")
	size     = flag.Int("size", 65536, "Number of elements")
	iter     = flag.Int("iter", 100, "Number of iterations")
	buckets  = flag.Int("buckets", 16, "Bucket count for mkperm")
	verbose  = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()

	fmt.Printf("jitgraph Collective Kernel Benchmark\n")
	fmt.Printf("=====================================\n")
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("CPUs: %d\n", runtime.NumCPU())
	fmt.Printf("Size: %d elements\n", *size)
	fmt.Printf("Iterations: %d\n\n", *iter)

	switch *testType {
	case "all":
		runReduce()
		runScan()
		runMkperm()
	case "reduce":
		runReduce()
	case "scan":
		runScan()
	case "mkperm":
		runMkperm()
	default:
		fmt.Printf("Unknown test type: %s\n", *testType)
		os.Exit(1)
	}
}

func elementsPerSecond(n, iters int, d time.Duration) float64 {
	return float64(n*iters) / d.Seconds()
}

func runReduce() {
	fmt.Printf("Reduce\n------\n")
	buf := make([]byte, *size*4)
	for i := 0; i < *size; i++ {
		kernels.SetElem(buf, core.Float32, i, rand.Float64()*200-100)
	}
	out := make([]byte, 4)

	start := time.Now()
	for i := 0; i < *iter; i++ {
		kernels.Reduce(core.Float32, kernels.ReduceAdd, buf, *size, out)
	}
	d := time.Since(start)
	fmt.Printf("Reduce(add):    %v (%.2f Mops/s)\n\n", d, elementsPerSecond(*size, *iter, d)/1e6)
}

func runScan() {
	fmt.Printf("Scan\n----\n")
	bound := kernels.ScanBound(*size)
	in := make([]uint32, bound)
	out := make([]uint32, bound)
	for i := 0; i < *size; i++ {
		in[i] = uint32(rand.Intn(8))
	}

	start := time.Now()
	for i := 0; i < *iter; i++ {
		kernels.Scan(in, out, *size)
	}
	d := time.Since(start)
	fmt.Printf("Scan:           %v (%.2f Mops/s)\n\n", d, elementsPerSecond(*size, *iter, d)/1e6)
	if *verbose && *size > 0 {
		fmt.Printf("  first prefix value: %d\n", out[0])
	}
}

func runMkperm() {
	fmt.Printf("Mkperm\n------\n")
	values := make([]uint32, *size)
	for i := range values {
		values[i] = uint32(rand.Intn(*buckets))
	}
	perm := make([]uint32, *size)

	start := time.Now()
	var nbuckets int
	for i := 0; i < *iter; i++ {
		nbuckets = len(kernels.Mkperm(values, *size, *buckets, perm))
	}
	d := time.Since(start)
	fmt.Printf("Mkperm(%d buckets): %v (%.2f Mops/s)\n\n", *buckets, d, elementsPerSecond(*size, *iter, d)/1e6)
	if *verbose {
		fmt.Printf("  non-empty buckets: %d\n", nbuckets)
	}
}
