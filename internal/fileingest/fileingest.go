// Package fileingest finds local files for the submit command.
package fileingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileMeta holds metadata about a file to be submitted.
type FileMeta struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// DiscoverOptions narrows a directory walk.
type DiscoverOptions struct {
	// Extensions keeps only files with one of these extensions, compared
	// case-insensitively with or without the leading dot. Empty keeps all.
	Extensions []string
	Recursive  bool
	// IncludeHidden keeps dot files and descends into dot directories.
	IncludeHidden bool
}

/*
Discover lists the regular files under root, sorted by path.

A root that is itself a file is returned as the only result. Files that
cannot be stat'ed are skipped; an unreadable directory aborts the walk.
*/
func Discover(ctx context.Context, root string, opts DiscoverOptions) ([]FileMeta, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []FileMeta{metaFromInfo(root, info)}, nil
	}

	exts := normalizeExtensions(opts.Extensions)
	var files []FileMeta
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		hidden := path != root && strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !opts.Recursive || (hidden && !opts.IncludeHidden) {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden && !opts.IncludeHidden {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(exts) > 0 && !exts[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		meta, metaErr := ExtractFileMeta(path)
		if metaErr != nil {
			// Skip files we can't stat, but continue
			return nil
		}
		files = append(files, meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

/*
ExtractFileMeta extracts metadata from a given file path.

Returns FileMeta with Name, Path, Size, and ModTime.
*/
func ExtractFileMeta(path string) (FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, err
	}
	return metaFromInfo(path, info), nil
}

func metaFromInfo(path string, info os.FileInfo) FileMeta {
	return FileMeta{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

func normalizeExtensions(in []string) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for _, ext := range in {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = true
	}
	return out
}
