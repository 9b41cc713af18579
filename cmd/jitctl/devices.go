package main

import (
	"fmt"

	"github.com/spf13/cobra"

	jitgraphrt "github.com/brindleforge/jitgraph/runtime"
)

func newDevicesCmd() *cobra.Command {
	var (
		llvmCPU      string
		llvmFeatures []string
		llvmWidth    int
	)
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Print device count and backend capability",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runtimeOptions()
			if llvmCPU != "" {
				opts.LLVMCPU = llvmCPU
			}
			if len(llvmFeatures) > 0 {
				opts.LLVMFeatures = llvmFeatures
			}
			if llvmWidth > 0 {
				opts.LLVMWidth = llvmWidth
			}

			ctx, err := jitgraphrt.Init(opts)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer ctx.Shutdown(true)

			fmt.Printf("devices:     %d\n", ctx.DeviceCount())
			fmt.Printf("has_llvm:    %t\n", ctx.HasLLVM())
			fmt.Printf("has_cuda:    %t\n", ctx.HasCUDA())
			for _, f := range llvmFeatures {
				fmt.Printf("feature %q at width %d: %t\n", f, llvmWidth, ctx.LLVMIfAtLeast(llvmWidth, f))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&llvmCPU, "llvm-cpu", "", "Override the LLVM/Host target CPU")
	cmd.Flags().StringSliceVar(&llvmFeatures, "llvm-feature", nil, "LLVM/Host target feature to report on (repeatable)")
	cmd.Flags().IntVar(&llvmWidth, "llvm-width", 0, "Override the LLVM/Host target vector width")
	return cmd
}
