package exporter

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"unicode/utf8"

	"rawdat/pkg/core"
	"rawdat/pkg/sample"
	"rawdat/pkg/types"
)

// previewBytes 是 Blob 数据在终端中最多显示的字节数
const previewBytes = 64

// PrintObject 打印一个对象的表项信息和字段
func (e *Exporter) PrintObject(w io.Writer, path string) error {
	l, err := e.a.GetObject(path)
	if err != nil {
		return err
	}
	defer l.Release()

	id := types.NewObjectID(path)
	fmt.Fprintf(w, "Path:    %s\n", path)
	fmt.Fprintf(w, "ID:      %s\n", id)
	if entry, ok := e.a.Entry(id); ok {
		fmt.Fprintf(w, "Class:   %s\n", e.a.ClassName(entry.Class))
		fmt.Fprintf(w, "Size:    %s\n", fmtSize(int64(entry.Length)))
	} else {
		// 由 Manager 从其它归档取得
		fmt.Fprintf(w, "Class:   %T (linked archive)\n", l.Object())
	}
	if l.IsShared() {
		fmt.Fprintf(w, "Static:  yes\n")
	}
	fmt.Fprintln(w)

	return e.printFields(w, l.Object())
}

func (e *Exporter) printFields(w io.Writer, obj core.Object) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	switch o := obj.(type) {
	case *sample.Leaf:
		fmt.Fprintf(tw, "value\t%d\n", o.Value)
		fmt.Fprintf(tw, "label\t%q\n", o.Label)
	case *sample.Group:
		fmt.Fprintf(tw, "name\t%q\n", o.Name)
		for i, m := range o.Members {
			fmt.Fprintf(tw, "members[%d]\t%s\n", i, e.describeLink(m.LinkBase))
		}
		fmt.Fprintf(tw, "best\t%s\n", e.describeLink(o.Best.LinkBase))
	case *sample.Blob:
		fmt.Fprintf(tw, "data\t%s\n", preview(o.Data))
		keys := make([]string, 0, len(o.Meta))
		for k := range o.Meta {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "meta.%s\t%q\n", k, o.Meta[k])
		}
	case *sample.Material:
		fmt.Fprintf(tw, "name\t%q\n", o.Name)
		fmt.Fprintf(tw, "color\t%v\n", o.Color)
	case *sample.Mesh:
		fmt.Fprintf(tw, "name\t%q\n", o.Name)
		fmt.Fprintf(tw, "vertices\t%d\n", len(o.Vertices))
		fmt.Fprintf(tw, "material\t%s\n", e.describeLink(o.Material.LinkBase))
	case *sample.Node:
		fmt.Fprintf(tw, "name\t%q\n", o.Name)
		fmt.Fprintf(tw, "next\t%s\n", e.describeLink(o.Next))
	default:
		fmt.Fprintf(tw, "value\t%+v\n", obj)
	}
	return tw.Flush()
}

// describeLink: "-" / "-> items.alpha" / "(inline sample.Leaf)"
func (e *Exporter) describeLink(l core.LinkBase) string {
	switch {
	case l.IsNull():
		return "-"
	case l.IsAnonymous():
		return fmt.Sprintf("(inline %s)", e.a.ClassName(l.Object().ClassID()))
	}
	name, err := e.LinkName(l)
	if err != nil {
		name = l.Path().String()
	}
	return "-> " + name
}

func preview(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	head := data[:min(len(data), previewBytes)]
	suffix := ""
	if len(head) < len(data) {
		suffix = fmt.Sprintf(" ... (%s)", fmtSize(int64(len(data))))
	}
	if utf8.Valid(head) {
		return fmt.Sprintf("%q%s", head, suffix)
	}
	return fmt.Sprintf("% x%s", head, suffix)
}

// PrintChildren 列出 path 的直接子节点
// 中间目录 (没有对象) 的 CLASS 和 SIZE 显示为 "-"
func (e *Exporter) PrintChildren(w io.Writer, path string) error {
	return e.printRows(w, e.a.Children(path))
}

// PrintList 列出全部对象 (表顺序)
func (e *Exporter) PrintList(w io.Writer) error {
	return e.printRows(w, e.a.AllObjects())
}

func (e *Exporter) printRows(w io.Writer, ids []types.ObjectID) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "ID\tCLASS\tSIZE\tKIDS\tPATH\n")
	for _, id := range ids {
		class, size := "-", "-"
		if entry, ok := e.a.Entry(id); ok {
			class = e.a.ClassName(entry.Class)
			size = fmtSize(int64(entry.Length))
		}
		kids := "-"
		if n := len(e.a.ChildrenOf(id)); n > 0 {
			kids = fmt.Sprintf("%d", n)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, class, size, kids, e.Name(id))
	}
	return tw.Flush()
}

func fmtSize(s int64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}
	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
