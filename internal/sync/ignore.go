package sync

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/drivesync/internal/drive"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

// IgnoreFileName is read from the local root and holds gitignore-style rules.
const IgnoreFileName = ".syncignore"

var defaultIgnoreLines = []string{
	IgnoreFileName,
	"*" + drive.TempMarker + "*",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	// editor swap files
	"*.swp",
	"*.swx",
}

// IgnoreList decides which paths take no part in synchronization. Paths
// matching an ignore rule are skipped; when include patterns are set, only
// paths matching one of them (and the folders leading to them) are synced.
type IgnoreList struct {
	ignore  *gitignore.GitIgnore
	include []string
}

// NewIgnoreList compiles the default rules plus extra lines. Include patterns
// use doublestar syntax, e.g. "docs/**" or "**/*.md".
func NewIgnoreList(lines []string, include []string) (*IgnoreList, error) {
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}

	all := append(append([]string{}, defaultIgnoreLines...), lines...)
	return &IgnoreList{
		ignore:  gitignore.CompileIgnoreLines(all...),
		include: include,
	}, nil
}

// LoadIgnoreList reads IgnoreFileName from the root of fsys, if present, and
// appends it to the extra rules.
func LoadIgnoreList(fsys afero.Fs, extra []string, include []string) (*IgnoreList, error) {
	lines := append([]string{}, extra...)

	data, err := afero.ReadFile(fsys, "/"+IgnoreFileName)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", IgnoreFileName, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) > len(extra) {
		slog.Info("ignore rules loaded", "file", IgnoreFileName, "rules", len(lines)-len(extra))
	}

	return NewIgnoreList(lines, include)
}

func (l *IgnoreList) ShouldIgnore(path string, isFolder bool) bool {
	if l == nil {
		return false
	}
	if l.ignore.MatchesPath(path) || (isFolder && l.ignore.MatchesPath(path+"/")) {
		return true
	}
	return len(l.include) > 0 && !l.included(path, isFolder)
}

func (l *IgnoreList) included(path string, isFolder bool) bool {
	for _, pattern := range l.include {
		if doublestar.MatchUnvalidated(pattern, path) {
			return true
		}
		if !isFolder {
			continue
		}
		// folders on the way to, or below the static part of, a pattern
		base, _ := doublestar.SplitPattern(pattern)
		if base == "." || base == path || strings.HasPrefix(base, path+"/") || strings.HasPrefix(path, base+"/") {
			return true
		}
	}
	return false
}
