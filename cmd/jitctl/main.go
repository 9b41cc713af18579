// Command jitctl is the cobra-based operator CLI for jitgraph: device
// introspection, disk-cache maintenance, and a one-shot trace/eval/read
// smoke test, with klog bound onto the command tree for leveled logging.
package main

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	jitgraphrt "github.com/brindleforge/jitgraph/runtime"
)

func main() {
	klogFlags := goflag.NewFlagSet("klog", goflag.ExitOnError)
	klog.InitFlags(klogFlags)

	root := newRootCmd()
	root.PersistentFlags().AddGoFlagSet(klogFlags)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jitctl",
		Short: "Inspect and exercise a jitgraph runtime",
	}
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}

// runtimeOptions returns the DefaultOptions used by every subcommand that
// stands up a Context, backed by klog for leveled logging.
func runtimeOptions() jitgraphrt.Options {
	opts := jitgraphrt.DefaultOptions()
	opts.Logr = klog.Background()
	return opts
}
