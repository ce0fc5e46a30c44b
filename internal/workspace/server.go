package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// MaxServerFileChars bounds what ReadServerFile returns. Logs grow at the
// end, so the tail is kept.
const MaxServerFileChars = 10000

// ServerFS reads a Minecraft server directory on local disk. Every path
// is resolved inside the root, symlinks included.
type ServerFS struct{}

func NewServerFS() *ServerFS {
	return &ServerFS{}
}

// ReadServerFile returns the file content, or its last MaxServerFileChars
// characters behind a header when longer. Missing files yield a readable
// message rather than an error.
func (s *ServerFS) ReadServerFile(ctx context.Context, root, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := resolve(root, rel)
	if err != nil {
		return "", err
	}

	raw, err := os.ReadFile(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("file not found: %s", rel), nil
	case err != nil:
		return "", fmt.Errorf("read server file %s: %w", rel, err)
	}
	return truncateTail(string(raw), rel), nil
}

// ListServerFiles lists one directory, sorted, with directories suffixed
// by "/".
func (s *ServerFS) ListServerFiles(ctx context.Context, root, rel string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := resolve(root, rel)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("list server files %s: %w", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func resolve(root, rel string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("server root is not configured")
	}
	full, err := securejoin.SecureJoin(root, rel)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}
	return full, nil
}

func truncateTail(content, name string) string {
	total := utf8.RuneCountInString(content)
	if total <= MaxServerFileChars {
		return content
	}
	runes := []rune(content)
	tail := string(runes[total-MaxServerFileChars:])
	return fmt.Sprintf("[%s truncated: showing last %d of %d characters]\n%s", name, MaxServerFileChars, total, tail)
}
