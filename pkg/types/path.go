package types

import "strings"

// PathSeparator 分隔层级路径的各个部分 ("a.b.c")
const PathSeparator = "."

// Path 是一个轻量的值类型：要么持有一个 ObjectID，要么是空路径。
// str 只是诊断用的元数据，查找永远只用 id。
type Path struct {
	id  ObjectID
	str string
}

// NewPath 根据可读路径构造 Path
func NewPath(s string) Path {
	return Path{id: NewObjectID(s), str: s}
}

// PathFromID 用已有的 ObjectID 构造 Path (没有可读字符串)
func PathFromID(id ObjectID) Path {
	return Path{id: id}
}

// ID 返回查找用的 ObjectID
func (p Path) ID() ObjectID { return p.id }

func (p Path) IsNull() bool { return p.id.IsNull() }

// HasString 报告是否携带了可读字符串
func (p Path) HasString() bool { return p.str != "" }

// String 优先返回可读路径，否则返回十六进制 id
func (p Path) String() string {
	if p.str != "" {
		return p.str
	}
	if p.id.IsNull() {
		return "<null>"
	}
	return p.id.String()
}

// Raw 返回构造时的字符串 (可能为空)
func (p Path) Raw() string { return p.str }

// ParentPath 返回点分路径的父路径
// "a.b.c" -> "a.b"，"a" -> "" (根)
func ParentPath(p string) string {
	i := strings.LastIndex(p, PathSeparator)
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Ancestors 从近到远列出所有祖先，最后一个总是根 ""
func Ancestors(p string) []string {
	var out []string
	for p != "" {
		p = ParentPath(p)
		out = append(out, p)
	}
	return out
}
