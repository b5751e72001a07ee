package commands

import (
	"fmt"

	"rawdat/pkg/archive"
	"rawdat/pkg/exporter"
	"rawdat/pkg/sample"

	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <archive>",
	Short: "Print the lookup table of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := RD.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Dump(cmd.OutOrStdout())
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <archive>",
	Short: "List every object of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := RD.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()
		return exporter.New(a).PrintList(cmd.OutOrStdout())
	},
}

var childrenCmd = &cobra.Command{
	Use:   "children <archive> [path]",
	Short: "List the direct children of a dotted path (default: root)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := RD.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		path := ""
		if len(args) > 1 {
			path = args[1]
		}
		return exporter.New(a).PrintChildren(cmd.OutOrStdout(), path)
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <archive> <path>",
	Short: "Load one object and print its fields",
	Long: `Load an object by its dotted path and print it.

Links that are not in the archive are looked up in the archives given with
--with, in order.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		with, _ := cmd.Flags().GetStringSlice("with")
		raw, _ := cmd.Flags().GetBool("raw")

		// 1. 打开归档 (有 --with 时组成链)
		var a *archive.Archive
		if len(with) > 0 {
			chain, err := RD.OpenChain(append([]string{args[0]}, with...))
			if err != nil {
				return err
			}
			defer chain.Close()
			a = chain.Members()[0]
		} else {
			var err error
			if a, err = RD.Open(args[0]); err != nil {
				return err
			}
			defer a.Close()
		}

		// 2. --raw 只输出 Blob 的数据，便于重定向到文件
		if raw {
			return catRaw(cmd, a, args[1])
		}
		return exporter.New(a).PrintObject(cmd.OutOrStdout(), args[1])
	},
}

func catRaw(cmd *cobra.Command, a *archive.Archive, path string) error {
	l, err := a.GetObject(path)
	if err != nil {
		return err
	}
	defer l.Release()

	blob, ok := l.Object().(*sample.Blob)
	if !ok {
		return fmt.Errorf("%s is a %T, --raw needs a blob", path, l.Object())
	}
	_, err = cmd.OutOrStdout().Write(blob.Data)
	return err
}

func init() {
	catCmd.Flags().StringSlice("with", nil, "Additional archives used to resolve cross-archive links")
	catCmd.Flags().Bool("raw", false, "Write the raw data of a blob to stdout")

	rootCmd.AddCommand(dumpCmd, lsCmd, childrenCmd, catCmd)
}
