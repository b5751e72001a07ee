package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <archive> [key]",
	Short: "Upload an archive to the configured store",
	Long: `Validate a local archive and upload it to the store (disk or S3, optionally
behind the Redis cache). The key defaults to the file name. With --index the
archive is also recorded in the catalog so 'rawdat find' can search it.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetBool("index")

		key := filepath.Base(args[0])
		if len(args) > 1 {
			key = args[1]
		}

		model, err := RD.Push(cmd.Context(), args[0], key, index)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s -> %s\n", args[0], key)
		if model != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d objects (version %d)\n", model.Objects, model.Version)
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <key> [dest]",
	Short: "Download an archive from the configured store",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := filepath.Base(args[0])
		if len(args) > 1 {
			dest = args[1]
		}
		if err := RD.Pull(cmd.Context(), args[0], dest); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pulled %s -> %s\n", args[0], dest)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <archive>",
	Short: "Record a local archive in the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = args[0]
		}

		a, err := RD.Open(args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		repo, err := RD.Catalog(cmd.Context())
		if err != nil {
			return err
		}
		model, err := repo.IndexArchive(cmd.Context(), name, a, st.Size())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s: %d objects, %d directories (version %d)\n",
			model.Name, model.Objects, model.Directories, model.Version)
		return nil
	},
}

var findCmd = &cobra.Command{
	Use:   "find <path-prefix>",
	Short: "Search the catalog for objects whose path starts with a prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		repo, err := RD.Catalog(cmd.Context())
		if err != nil {
			return err
		}
		entries, err := repo.FindByPrefix(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintf(tw, "ARCHIVE\tCLASS\tSIZE\tPATH\n")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.ArchiveKey, e.Class, e.Length, e.Path)
		}
		return tw.Flush()
	},
}

var archivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List the archives recorded in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := RD.Catalog(cmd.Context())
		if err != nil {
			return err
		}
		list, err := repo.ListArchives(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintf(tw, "NAME\tOBJECTS\tDIRS\tSIZE\tVERSION\tUPDATED\n")
		for _, m := range list {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
				m.Name, m.Objects, m.Directories, m.SizeBytes, m.Version, m.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

func init() {
	pushCmd.Flags().Bool("index", false, "Also record the archive in the catalog")
	indexCmd.Flags().String("name", "", "Catalog name (default: the file path)")
	findCmd.Flags().Int("limit", 100, "Maximum number of results")

	rootCmd.AddCommand(pushCmd, pullCmd, indexCmd, findCmd, archivesCmd)
}
