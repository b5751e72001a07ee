package archive

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Dump 输出表的可读列表 (size, offset, id, class, path)
func (a *Archive) Dump(w io.Writer) error {
	fmt.Fprintf(w, "Archive: %s (%s)\n", a.name, a.mode)
	fmt.Fprintf(w, "Objects: %d  Directories: %d  Static: %d\n\n", len(a.table), len(a.dirs), len(a.static))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SIZE\tOFFSET\tID\tCLASS\tPATH\n")
	for i, e := range a.table {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", e.Length, e.Offset, e.Path, a.ClassName(e.Class), a.paths[i])
	}
	return tw.Flush()
}
