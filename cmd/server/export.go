package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vmprof-mcp/internal/config"
	"vmprof-mcp/internal/export"
	"vmprof-mcp/internal/vmprof"
)

const (
	formatChrome = "chrome"
	formatPProf  = "pprof"
)

var (
	exportFormat string
	exportOutDir string

	exportCmd = &cobra.Command{
		Use:   "export PROFILE...",
		Short: "Convert profiles to chrome traces or pprof",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir := cfg.Export.OutDir
			if exportOutDir != "" {
				outDir = exportOutDir
			}
			written, err := exportAll(cmd.Context(), args, exportFormat, outDir)
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		},
	}
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", formatChrome, "output format (must be one of `chrome`, `pprof`)")
	exportCmd.Flags().StringVarP(&exportOutDir, "out-dir", "o", "", "directory for converted files (default: next to each profile)")
	rootCmd.AddCommand(exportCmd)
}

// exportAll converts every input with at most export.parallelism files in
// flight. Outputs are returned in input order; the first failure cancels the
// rest. Inputs that map to the same output file are rejected up front.
func exportAll(ctx context.Context, inputs []string, format, outDir string) ([]string, error) {
	if format != formatChrome && format != formatPProf {
		return nil, fmt.Errorf("unknown format %q", format)
	}

	targets := make([]string, len(inputs))
	seen := make(map[string]string, len(inputs))
	for i, in := range inputs {
		out := outputPath(in, outDir, format)
		if prev, ok := seen[out]; ok {
			return nil, fmt.Errorf("%s and %s would both be exported to %s", prev, in, out)
		}
		seen[out] = in
		targets[i] = out
	}

	outputs := make([]string, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Export.Parallelism)

	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := vmprof.ReadProfile(in, vmprof.WithLogger(logger))
			if err != nil {
				return err
			}
			out := targets[i]
			if err := writeExport(out, format, p, cfg, logger); err != nil {
				return fmt.Errorf("failed to export %s: %w", in, err)
			}
			logger.Info("profile exported",
				zap.String("input", in),
				zap.String("output", out),
				zap.String("format", format),
			)
			outputs[i] = out
			return nil
		})
	}

	err := g.Wait()
	written := outputs[:0]
	for _, out := range outputs {
		if out != "" {
			written = append(written, out)
		}
	}
	return written, err
}

// outputPath derives the converted file name from the profile name, dropping
// compression suffixes: app.prof.gz becomes app.json or app.pb.gz.
func outputPath(in, outDir, format string) string {
	base := filepath.Base(in)
	for _, ext := range []string{".gz", ".zst"} {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))

	switch format {
	case formatPProf:
		base += ".pb.gz"
	default:
		base += ".json"
	}

	dir := outDir
	if dir == "" {
		dir = filepath.Dir(in)
	}
	return filepath.Join(dir, base)
}

func chromeOptions(c *config.Config, logger *zap.Logger) export.ChromeOptions {
	opts := export.DefaultChromeOptions()
	opts.Skew = c.FlameChart.SkewUsec / 1e6
	opts.LookaheadPeriods = c.FlameChart.LookaheadPeriods
	opts.Logger = logger
	return opts
}

func writeExport(out, format string, p *vmprof.Profile, c *config.Config, logger *zap.Logger) (err error) {
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	switch format {
	case formatChrome:
		err = export.WriteChromeTrace(w, p, chromeOptions(c, logger))
	case formatPProf:
		err = export.WritePProf(w, p)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return err
	}
	return w.Flush()
}
