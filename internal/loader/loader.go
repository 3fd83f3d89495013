// Package loader walks a working copy and yields the files worth indexing.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// binarySniffLen is how much of a file is inspected for NUL bytes.
const binarySniffLen = 8000

// errStop ends the walk once a cap is reached.
var errStop = errors.New("stop walk")

// FileError reports a single file that could not be read. Iteration
// continues after it; any other yielded error ends the sequence.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }

// Document is one qualifying file under the working copy.
type Document struct {
	Path      string // slash-separated, relative to the root
	AbsPath   string
	Extension string
	Content   string
	Size      int64
}

// Options controls which files are yielded.
type Options struct {
	Extensions      []string // allow-list, with leading dot
	ExcludeDirs     []string // directory names never descended into
	ExcludePatterns []string // doublestar globs matched against relative paths
	MaxFiles        int      // <= 0 means unlimited
	MaxFileBytes    int64    // <= 0 means unlimited
	MaxTotalBytes   int64    // <= 0 means unlimited
}

// Stats summarises one pass over a directory.
type Stats struct {
	Yielded        int
	YieldedBytes   int64
	SkippedExt     int
	SkippedPattern int
	SkippedSize    int
	SkippedBinary  int
	SkippedDirs    int
	Truncated      bool
}

// Loader enumerates documents. A Loader is reusable but each sequence it
// returns can be ranged over once.
type Loader struct {
	opts        Options
	extensions  map[string]struct{}
	excludeDirs map[string]struct{}
	logger      *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Loader, validating glob patterns up front.
func New(opts Options, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, pattern := range opts.ExcludePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	l := &Loader{
		opts:        opts,
		extensions:  make(map[string]struct{}, len(opts.Extensions)),
		excludeDirs: make(map[string]struct{}, len(opts.ExcludeDirs)),
		logger:      logger,
	}
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		l.extensions[ext] = struct{}{}
	}
	for _, dir := range opts.ExcludeDirs {
		l.excludeDirs[strings.TrimSuffix(dir, "/")] = struct{}{}
	}
	return l, nil
}

// Stats returns counters from the most recent pass.
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Documents returns a lazy sequence of documents under root. A file that
// cannot be read is yielded as a *FileError and iteration continues; a walk
// error or context cancellation ends the sequence.
func (l *Loader) Documents(ctx context.Context, root string) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		var stats Stats
		defer func() {
			l.mu.Lock()
			l.stats = stats
			l.mu.Unlock()
		}()

		info, err := os.Stat(root)
		if err != nil {
			yield(Document{}, fmt.Errorf("stat %s: %w", root, err))
			return
		}
		if !info.IsDir() {
			yield(Document{}, fmt.Errorf("%s is not a directory", root))
			return
		}

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				l.logger.Warn("Skipping unreadable path", "path", path, "error", err)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if rel != "." && l.isExcludedDir(d.Name()) {
					stats.SkippedDirs++
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(rel))
			if _, ok := l.extensions[ext]; !ok {
				stats.SkippedExt++
				return nil
			}
			if l.isExcludedPath(rel) {
				stats.SkippedPattern++
				return nil
			}

			fileInfo, err := d.Info()
			if err != nil {
				if !yield(Document{Path: rel}, &FileError{Path: rel, Err: err}) {
					return errStop
				}
				return nil
			}
			if l.opts.MaxFileBytes > 0 && fileInfo.Size() > l.opts.MaxFileBytes {
				stats.SkippedSize++
				l.logger.Debug("Skipping oversized file", "path", rel, "size", fileInfo.Size())
				return nil
			}
			if l.opts.MaxTotalBytes > 0 && stats.YieldedBytes+fileInfo.Size() > l.opts.MaxTotalBytes {
				stats.Truncated = true
				return errStop
			}

			content, err := os.ReadFile(path)
			if err != nil {
				if !yield(Document{Path: rel}, &FileError{Path: rel, Err: err}) {
					return errStop
				}
				return nil
			}
			if isBinary(content) {
				stats.SkippedBinary++
				return nil
			}

			stats.Yielded++
			stats.YieldedBytes += int64(len(content))
			doc := Document{
				Path:      rel,
				AbsPath:   path,
				Extension: ext,
				Content:   string(content),
				Size:      int64(len(content)),
			}
			if !yield(doc, nil) {
				return errStop
			}
			if l.opts.MaxFiles > 0 && stats.Yielded >= l.opts.MaxFiles {
				stats.Truncated = true
				return errStop
			}
			return nil
		})

		if stats.Truncated {
			l.logger.Warn("Document limit reached, remaining files skipped",
				"root", root, "files", stats.Yielded, "bytes", stats.YieldedBytes)
		}
		if walkErr != nil && !errors.Is(walkErr, errStop) {
			yield(Document{}, fmt.Errorf("walk %s: %w", root, walkErr))
		}
	}
}

func (l *Loader) isExcludedDir(name string) bool {
	_, ok := l.excludeDirs[name]
	return ok
}

func (l *Loader) isExcludedPath(rel string) bool {
	base := filepath.Base(rel)
	for _, pattern := range l.opts.ExcludePatterns {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func isBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}
