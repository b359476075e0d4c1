package motion

import (
	"slices"
	"strings"

	"github.com/tphakala/motioncam/internal/errors"
)

// Mode identifies a detection strategy.
type Mode string

const (
	ModeBackgroundModel  Mode = "background-model"
	ModePointTracking    Mode = "point-tracking"
	ModeChromaticityEdge Mode = "chromaticity-edge"
)

// DefaultMode is used when no mode is configured.
const DefaultMode = ModeBackgroundModel

// ErrUnknownMode is returned for mode names that are neither canonical nor a legacy alias.
var ErrUnknownMode = errors.NewStd("unknown detection mode")

// Legacy names stored in older user preferences.
var modeAliases = map[string]Mode{
	"mog2":             ModeBackgroundModel,
	"mgo2":             ModeBackgroundModel,
	"lucas_kanade_orb": ModePointTracking,
	"mckenna":          ModeChromaticityEdge,
}

// Modes returns the canonical mode names in display order.
func Modes() []Mode {
	return []Mode{ModeBackgroundModel, ModePointTracking, ModeChromaticityEdge}
}

// ParseMode resolves a canonical name or legacy alias, case-insensitively.
func ParseMode(name string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return DefaultMode, nil
	}
	if m := Mode(key); slices.Contains(Modes(), m) {
		return m, nil
	}
	if m, ok := modeAliases[key]; ok {
		return m, nil
	}
	return "", errors.New(ErrUnknownMode).
		Component("motion").
		Category(errors.CategoryValidation).
		Context("mode", name).
		Build()
}

func (m Mode) String() string { return string(m) }
