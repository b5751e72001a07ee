package ignore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是用户自定义规则文件
const FileName = ".rawignore"

// defaultRules 始终生效，但可以被后面的 "!pattern" 重新包含
var defaultRules = []string{
	// --- 工具自身的数据 ---
	".rawdat",  // 本地配置、定位库和目录数据库
	"*.rawdat", // 打包产物本身不能再被打包
	".git",

	// --- 安全与配置 ---
	"config.yaml", // 防止 S3 Secret Key 被打进归档
	".env",

	// --- 常见垃圾文件 ---
	".DS_Store",
	"Thumbs.db",
	"*~",
}

// Matcher 判断打包目录中的文件是否应该被跳过
type Matcher struct {
	ignorer *gitignore.GitIgnore
	rules   []string
}

// NewMatcher 编译源目录的忽略规则
// 顺序：默认规则 -> extra (命令行 --exclude) -> .rawignore，后出现的规则优先
func NewMatcher(rootPath string, extra ...string) (*Matcher, error) {
	rules := slices.Concat(defaultRules, extra)

	data, err := os.ReadFile(filepath.Join(rootPath, FileName))
	switch {
	case err == nil:
		rules = append(rules, strings.Split(string(data), "\n")...)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}

	return &Matcher{
		ignorer: gitignore.CompileIgnoreLines(rules...),
		rules:   rules,
	}, nil
}

// Matches 检查给定的路径是否匹配忽略规则
// path: 相对于源目录的 "/" 分隔路径 (例如 "items/alpha.yaml")
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}

// Rules 返回生效的规则 (去掉空行和注释)，用于 --log-level debug 时排查
func (m *Matcher) Rules() []string {
	if m == nil {
		return nil
	}
	var out []string
	for _, r := range m.rules {
		r = strings.TrimSpace(r)
		if r != "" && !strings.HasPrefix(r, "#") {
			out = append(out, r)
		}
	}
	return out
}
