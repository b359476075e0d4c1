package diskmanager

import (
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// Guard decides whether there is room for another recording.
type Guard struct {
	path     string
	maxUsage float64
	usage    func(path string) (float64, error)
	log      logger.Logger
}

// NewGuard creates a guard for the volume holding path. maxUsage is a percentage string such
// as "85%"; an empty string disables the guard.
func NewGuard(path, maxUsage string) (*Guard, error) {
	g := &Guard{
		path:  path,
		usage: GetDiskUsage,
		log:   logger.Global().Module("diskmanager"),
	}
	if maxUsage == "" {
		return g, nil
	}

	limit, err := conf.ParsePercentage(maxUsage)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		return nil, errors.Newf("disk usage limit must be within (0, 100], got %v", limit).
			Component("diskmanager").
			Category(errors.CategoryValidation).
			Context("max_usage", maxUsage).
			Build()
	}
	g.maxUsage = limit
	return g, nil
}

// Allow reports whether usage is below the limit. A usage lookup failure allows recording and
// returns the error for logging.
func (g *Guard) Allow() (bool, error) {
	if g == nil || g.maxUsage == 0 {
		return true, nil
	}

	used, err := g.usage(g.path)
	if err != nil {
		return true, err
	}
	if used >= g.maxUsage {
		g.log.Warn("disk usage above limit, skipping recording",
			logger.String("path", g.path),
			logger.Float64("used_percent", used),
			logger.Float64("limit_percent", g.maxUsage))
		return false, nil
	}
	return true, nil
}
