package diskmanager

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tphakala/motioncam/internal/errors"
)

// allowedFileTypes lists the extensions retention may delete.
var allowedFileTypes = []string{".mp4", ".avi", ".mkv", ".mov", ".jpg", ".jpeg"}

// FileInfo holds information about a recording or still on disk.
type FileInfo struct {
	Path    string
	Root    string // configured directory the file was found under
	ModTime time.Time
	Size    int64
}

// GetMediaFiles walks root and returns the files whose extension is in allowedExts.
// A missing root yields no files.
func GetMediaFiles(ctx context.Context, root string, allowedExts []string) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !slices.Contains(allowedExts, strings.ToLower(filepath.Ext(path))) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// removed between readdir and stat
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		files = append(files, FileInfo{
			Path:    path,
			Root:    root,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("root", root).
			Build()
	}
	return files, nil
}

// sortOldestFirst orders files by modification time, then path.
func sortOldestFirst(files []FileInfo) {
	slices.SortFunc(files, func(a, b FileInfo) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
}

// countPerRoot counts the files found under each configured directory.
func countPerRoot(files []FileInfo) map[string]int {
	counts := make(map[string]int)
	for i := range files {
		counts[files[i].Root]++
	}
	return counts
}

// deleteMediaFile removes a file. A file that is already gone counts as removed.
func deleteMediaFile(file *FileInfo) error {
	if err := os.Remove(file.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("path", file.Path).
			Build()
	}
	return nil
}
