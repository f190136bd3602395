package phases

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/fyrsmithlabs/shipyard/internal/ignore"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

type fileStamp struct {
	size    int64
	modTime time.Time
}

// snapshotMarkdown records every markdown file under dir that the
// worktree's .gitignore does not exclude.
func snapshotMarkdown(dir string) map[string]fileStamp {
	out := make(map[string]fileStamp)
	ignored := ignore.Load(dir)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if ignored.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isMarkdown(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out[path] = fileStamp{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	return out
}

// changedMarkdown lists files in after that are new or modified since before.
func changedMarkdown(before, after map[string]fileStamp) []string {
	var out []string
	for path, st := range after {
		prev, ok := before[path]
		if !ok || prev.size != st.size || !prev.modTime.Equal(st.modTime) {
			out = append(out, path)
		}
	}
	return out
}

func isMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

// markdownTitle returns the text of the first heading in the file, or "".
func markdownTitle(path string) string {
	source, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	doc := markdown.Parser().Parse(text.NewReader(source))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		title = strings.TrimSpace(inlineText(h, source))
		return ast.WalkStop, nil
	})
	return title
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			if v.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		default:
			b.WriteString(inlineText(c, source))
		}
	}
	return b.String()
}
