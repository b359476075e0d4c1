package diskmanager

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// Retention policies.
const (
	PolicyNone  = "none"
	PolicyAge   = "age"
	PolicyUsage = "usage"
)

const (
	// activeFileGrace protects files still being written, such as the current recording.
	activeFileGrace = 2 * time.Minute
	// maxDeletionsPerRun bounds one usage pass.
	maxDeletionsPerRun = 1000
)

// CleanupResult summarizes one retention pass.
type CleanupResult struct {
	Deleted int
	Freed   int64
}

// Cleaner prunes old recordings and stills from a set of directories.
type Cleaner struct {
	dirs     []string
	policy   string
	maxAge   time.Duration
	maxUsage float64
	minFiles int
	interval time.Duration

	usage func(path string) (float64, error)
	now   func() time.Time
	log   logger.Logger
}

// NewCleaner creates a cleaner for dirs. Empty directory names are ignored.
func NewCleaner(settings conf.RetentionSettings, dirs ...string) (*Cleaner, error) {
	c := &Cleaner{
		policy:   settings.Policy,
		maxAge:   settings.MaxAge,
		minFiles: settings.MinFiles,
		interval: settings.Interval,
		usage:    GetDiskUsage,
		now:      time.Now,
		log:      logger.Global().Module("diskmanager"),
	}
	if c.policy == "" {
		c.policy = PolicyNone
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		d = filepath.Clean(d)
		if !slices.Contains(c.dirs, d) {
			c.dirs = append(c.dirs, d)
		}
	}

	switch c.policy {
	case PolicyNone:
	case PolicyAge:
		if c.maxAge <= 0 {
			return nil, retentionError("max age must be greater than 0", settings)
		}
	case PolicyUsage:
		limit, err := conf.ParsePercentage(settings.MaxUsage)
		if err != nil {
			return nil, err
		}
		if limit <= 0 || limit > 100 {
			return nil, retentionError("max usage must be within (0, 100]", settings)
		}
		c.maxUsage = limit
	default:
		return nil, retentionError("unknown retention policy", settings)
	}
	if c.policy != PolicyNone && c.interval <= 0 {
		return nil, retentionError("interval must be greater than 0", settings)
	}
	return c, nil
}

func retentionError(msg string, settings conf.RetentionSettings) error {
	return errors.Newf("retention: %s", msg).
		Component("diskmanager").
		Category(errors.CategoryValidation).
		Context("policy", settings.Policy).
		Build()
}

// Enabled reports whether the cleaner deletes anything.
func (c *Cleaner) Enabled() bool {
	return c != nil && c.policy != PolicyNone && len(c.dirs) > 0
}

// Run applies the policy once at start and then every interval until ctx is cancelled.
// Pass errors are logged.
func (c *Cleaner) Run(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}

	c.log.Info("retention cleaner started",
		logger.String("policy", c.policy),
		logger.Duration("interval", c.interval),
		logger.Int("directories", len(c.dirs)))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.runOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Cleaner) runOnce(ctx context.Context) {
	res, err := c.Cleanup(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("retention pass failed", logger.Error(err))
		}
		return
	}
	if res.Deleted > 0 {
		c.log.Info("retention policy applied",
			logger.String("policy", c.policy),
			logger.Int("files_deleted", res.Deleted),
			logger.Int64("bytes_freed", res.Freed))
	}
}

// Cleanup runs one pass of the configured policy.
func (c *Cleaner) Cleanup(ctx context.Context) (CleanupResult, error) {
	switch c.policy {
	case PolicyAge:
		return c.AgeBasedCleanup(ctx)
	case PolicyUsage:
		return c.UsageBasedCleanup(ctx)
	default:
		return CleanupResult{}, nil
	}
}

// AgeBasedCleanup removes files older than the max age, keeping the newest minFiles per directory.
func (c *Cleaner) AgeBasedCleanup(ctx context.Context) (CleanupResult, error) {
	files, err := c.collect(ctx)
	if err != nil {
		return CleanupResult{}, err
	}
	counts := countPerRoot(files)
	cutoff := c.now().Add(-c.maxAge)

	var res CleanupResult
	for i := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		f := &files[i]
		if !f.ModTime.Before(cutoff) {
			// sorted, everything after is newer
			break
		}
		if counts[f.Root] <= c.minFiles {
			continue
		}
		if err := deleteMediaFile(f); err != nil {
			c.log.Warn("failed to remove expired file", logger.String("path", f.Path), logger.Error(err))
			continue
		}
		c.log.Debug("removed expired file", logger.String("path", f.Path))
		counts[f.Root]--
		res.Deleted++
		res.Freed += f.Size
	}
	return res, nil
}

// UsageBasedCleanup removes the oldest files while the volume of their directory is above the
// usage limit, keeping the newest minFiles per directory.
func (c *Cleaner) UsageBasedCleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult

	over := make(map[string]bool, len(c.dirs))
	for _, d := range c.dirs {
		used, err := c.usage(d)
		if err != nil {
			c.log.Debug("disk usage lookup failed", logger.String("path", d), logger.Error(err))
			continue
		}
		if used > c.maxUsage {
			over[d] = true
		}
	}
	if len(over) == 0 {
		return res, nil
	}

	files, err := c.collect(ctx)
	if err != nil {
		return res, err
	}
	counts := countPerRoot(files)

	for i := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if res.Deleted >= maxDeletionsPerRun {
			break
		}
		f := &files[i]
		if !over[f.Root] || counts[f.Root] <= c.minFiles {
			continue
		}

		used, err := c.usage(f.Root)
		if err != nil {
			return res, err
		}
		if used <= c.maxUsage {
			over[f.Root] = false
			continue
		}

		if err := deleteMediaFile(f); err != nil {
			c.log.Warn("failed to remove file", logger.String("path", f.Path), logger.Error(err))
			continue
		}
		c.log.Debug("removed file to free space",
			logger.String("path", f.Path),
			logger.Float64("used_percent", used))
		counts[f.Root]--
		res.Deleted++
		res.Freed += f.Size
	}
	return res, nil
}

// collect gathers candidate files from all directories, oldest first, leaving out files
// modified within activeFileGrace.
func (c *Cleaner) collect(ctx context.Context) ([]FileInfo, error) {
	var all []FileInfo
	seen := make(map[string]bool)
	settled := c.now().Add(-activeFileGrace)
	for _, d := range c.dirs {
		files, err := GetMediaFiles(ctx, d, allowedFileTypes)
		if err != nil {
			return nil, err
		}
		// nested directories report a file once, under the first root
		for _, f := range files {
			if seen[f.Path] || !f.ModTime.Before(settled) {
				continue
			}
			seen[f.Path] = true
			all = append(all, f)
		}
	}
	sortOldestFirst(all)
	return all, nil
}
