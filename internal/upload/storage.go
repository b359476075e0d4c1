package upload

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// Stored describes where a recording ended up.
type Stored struct {
	RemoteID  string // set when the upload succeeded
	LocalPath string // archive path, empty when the file was uploaded and removed
}

// Storage uploads recordings and falls back to a local archive directory.
type Storage struct {
	uploader    Uploader
	archivePath string
	log         logger.Logger
}

// NewStorage creates a storage. A nil uploader archives every file locally.
func NewStorage(uploader Uploader, archivePath string) *Storage {
	return &Storage{
		uploader:    uploader,
		archivePath: archivePath,
		log:         GetLogger(),
	}
}

// Store uploads path and deletes it on success. Without an uploader, or when the
// upload fails, the file is moved into the archive directory instead.
func (s *Storage) Store(ctx context.Context, path string) (Stored, error) {
	if _, err := os.Stat(path); err != nil {
		return Stored{}, errors.New(err).
			Component("upload").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	if s.uploader != nil {
		remoteID, err := s.uploader.Upload(ctx, path)
		if err == nil {
			if rmErr := os.Remove(path); rmErr != nil {
				s.log.Warn("failed to remove uploaded file",
					logger.String("path", path),
					logger.Error(rmErr))
				return Stored{RemoteID: remoteID, LocalPath: path}, nil
			}
			return Stored{RemoteID: remoteID}, nil
		}
		s.log.Warn("upload failed, archiving locally",
			logger.String("path", path),
			logger.Error(err))
	}

	dst, err := s.archive(path)
	if err != nil {
		return Stored{}, err
	}
	return Stored{LocalPath: dst}, nil
}

func (s *Storage) archive(path string) (string, error) {
	if s.archivePath == "" {
		// no archive configured, the file stays where it is
		return path, nil
	}
	if err := os.MkdirAll(s.archivePath, 0o755); err != nil {
		return "", errors.New(err).
			Component("upload").
			Category(errors.CategoryFileIO).
			Context("archive_path", s.archivePath).
			Build()
	}

	dst := filepath.Join(s.archivePath, filepath.Base(path))
	if err := conf.MoveFile(path, dst); err != nil {
		return "", errors.New(err).
			Component("upload").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Context("archive_path", s.archivePath).
			Build()
	}

	s.log.Info("video archived", logger.String("path", dst))
	return dst, nil
}
