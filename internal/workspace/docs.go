// Package workspace holds the collaborators the agent reads from: the
// documentation tree and an optional server directory.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// DocEntry is one document in the index shown to the model.
type DocEntry struct {
	Path  string
	Title string
}

// DocStore serves markdown documents from an fs.FS rooted at the docs
// directory.
type DocStore struct {
	fsys fs.FS
}

func NewDocStore(fsys fs.FS) *DocStore {
	return &DocStore{fsys: fsys}
}

// ReadDocument returns the document text. A missing document is not an
// error: the model gets a readable message instead.
func (d *DocStore) ReadDocument(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := cleanDocPath(p)
	if name == "" || !fs.ValidPath(name) {
		return fmt.Sprintf("document not found: %s", p), nil
	}
	if path.Ext(name) == "" {
		name += ".md"
	}

	raw, err := fs.ReadFile(d.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("document not found: %s", p), nil
	}
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", p, err)
	}
	return string(raw), nil
}

// Index lists every markdown document with its first heading as title.
func (d *DocStore) Index(ctx context.Context) ([]DocEntry, error) {
	var entries []DocEntry
	err := fs.WalkDir(d.fsys, ".", func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if e.IsDir() || path.Ext(p) != ".md" {
			return nil
		}
		entries = append(entries, DocEntry{
			Path:  strings.TrimSuffix(p, ".md"),
			Title: d.title(p),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index documents: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (d *DocStore) title(p string) string {
	raw, err := fs.ReadFile(d.fsys, p)
	if err != nil {
		logx.Debug().Err(err).Str("doc", p).Msg("document title unavailable")
		return path.Base(strings.TrimSuffix(p, ".md"))
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return path.Base(strings.TrimSuffix(p, ".md"))
}

// cleanDocPath accepts "/docs/x", "docs/x.md" and "x" alike.
func cleanDocPath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimPrefix(p, "docs/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
