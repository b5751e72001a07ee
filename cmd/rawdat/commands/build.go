package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"rawdat/pkg/exporter"
	"rawdat/pkg/packer"
	"rawdat/pkg/verify"

	"github.com/spf13/cobra"
)

var packCmd = &cobra.Command{
	Use:   "pack <dir>",
	Short: "Build an archive from a directory of YAML manifests",
	Long: `Walk <dir>, parse every *.yaml / *.yml manifest and write the objects to a
new archive. Files matched by .rawignore (gitignore syntax) or by --exclude
are skipped; rules in .rawignore win over --exclude.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		rawBlobs, _ := cmd.Flags().GetBool("raw-blobs")
		excludes, _ := cmd.Flags().GetStringArray("exclude")

		p := packer.New(
			packer.WithRawBlobs(rawBlobs),
			packer.WithExcludes(excludes...),
			packer.WithLogger(RD.Log),
		)
		res, err := p.Pack(cmd.Context(), args[0], out)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Packed %d objects from %d files into %s\n", res.Objects, res.Files, res.Out)
		classes := make([]string, 0, len(res.Classes))
		for c := range res.Classes {
			classes = append(classes, c)
		}
		sort.Strings(classes)
		for _, c := range classes {
			fmt.Fprintf(w, "  %-16s %d\n", c, res.Classes[c])
		}
		if len(res.Skipped) > 0 {
			fmt.Fprintf(w, "Ignored %d paths\n", len(res.Skipped))
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <archive>...",
	Short: "Load every object of one or more archives and report failures",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")
		roundTrip, _ := cmd.Flags().GetBool("roundtrip")

		w := cmd.OutOrStdout()
		var errs []error
		for _, name := range args {
			rep, err := verify.Archive(cmd.Context(), name,
				verify.WithWorkers(workers),
				verify.WithRoundTrip(roundTrip),
				verify.WithArchiveOptions(RD.ArchiveOptions()...),
				verify.WithLogger(RD.Log),
			)
			if err != nil {
				return err
			}

			if rep.OK() {
				fmt.Fprintf(w, "OK    %s (%d objects)\n", name, rep.Objects)
				continue
			}
			fmt.Fprintf(w, "FAIL  %s (%d of %d objects)\n", name, len(rep.Failures), rep.Objects)
			for _, f := range rep.Failures {
				fmt.Fprintf(w, "      %s\n", f.Error())
			}
			errs = append(errs, rep.Err())
		}
		if len(errs) > 0 {
			return fmt.Errorf("verification failed: %w", errors.Join(errs...))
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <archive>",
	Short: "Export objects as YAML manifests, or the index as JSON/CBOR",
	Long: `--format yaml (default) writes every object as a manifest document that
'rawdat pack' can rebuild from. --format json and --format cbor write the
lookup table and directory hierarchy without loading any object.

Links into other archives are written by path only when those archives are
given with --with.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		a, err := RD.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		// 1. 输出目标
		var w io.Writer = cmd.OutOrStdout()
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}()
			w = f
		}

		// 2. 导出 (--with 的归档只用来提供路径名)
		e := exporter.New(a)
		with, _ := cmd.Flags().GetStringSlice("with")
		for _, name := range with {
			other, err := RD.Open(name)
			if err != nil {
				return err
			}
			e.Learn(other)
			other.Close()
		}
		if format == "yaml" {
			n, err := e.ExportYAML(cmd.Context(), w)
			if err != nil {
				return err
			}
			RD.Log.Info("exported manifests", slog.Int("objects", n))
			return nil
		}
		return e.WriteIndex(w, format)
	},
}

func init() {
	packCmd.Flags().StringP("out", "o", "out.rawdat", "Output archive")
	packCmd.Flags().Bool("raw-blobs", false, "Pack non-YAML files as blobs")
	packCmd.Flags().StringArray("exclude", nil, "Extra ignore pattern (repeatable)")

	verifyCmd.Flags().Int("workers", 4, "Concurrent read handles per archive")
	verifyCmd.Flags().Bool("roundtrip", false, "Also re-serialize every object and compare sizes")

	exportCmd.Flags().String("format", "yaml", "yaml, json or cbor")
	exportCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringSlice("with", nil, "Archives whose paths name cross-archive links")

	rootCmd.AddCommand(packCmd, verifyCmd, exportCmd)
}
