package main

import (
	"github.com/spf13/cobra"

	"vmprof-mcp/internal/analyzer"
	"vmprof-mcp/internal/report"
	"vmprof-mcp/internal/vmprof"
)

var (
	topLimit int

	topCmd = &cobra.Command{
		Use:   "top PROFILE",
		Short: "Print the flat profile of a vmprof file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := vmprof.ReadProfile(args[0], vmprof.WithLogger(logger))
			if err != nil {
				return err
			}
			n := cfg.Report.TopN
			if topLimit > 0 {
				n = topLimit
			}
			report.RenderTop(cmd.OutOrStdout(), p, analyzer.TopFunctions(p, n))
			return nil
		},
	}

	treeDepth      int
	treeMinPercent float64

	treeCmd = &cobra.Command{
		Use:   "tree PROFILE",
		Short: "Print the call tree of a vmprof file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := vmprof.ReadProfile(args[0], vmprof.WithLogger(logger))
			if err != nil {
				return err
			}
			opts := report.TreeOptions{
				MaxDepth:   cfg.Report.TreeDepth,
				MinPercent: cfg.Report.TreeMinPercent,
			}
			if cmd.Flags().Changed("depth") {
				opts.MaxDepth = treeDepth
			}
			if cmd.Flags().Changed("min-percent") {
				opts.MinPercent = treeMinPercent
			}
			report.RenderTree(cmd.OutOrStdout(), p, analyzer.BuildTree(p.Samples), opts)
			return nil
		},
	}
)

func init() {
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 0, "number of functions to print (default: report.top_n)")
	treeCmd.Flags().IntVar(&treeDepth, "depth", 0, "deepest level to print, 0 for all")
	treeCmd.Flags().Float64Var(&treeMinPercent, "min-percent", 0, "skip subtrees below this share of samples")

	rootCmd.AddCommand(topCmd, treeCmd)
}
