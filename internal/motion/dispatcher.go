package motion

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// ConfirmFunc inspects a positive strategy mask and decides whether it is motion.
// The mask is only valid for the duration of the call.
type ConfirmFunc func(mask gocv.Mat) bool

// Dispatcher owns one strategy per registered mode and routes frames to the active one.
// Dispatch and SetMode may be called from different goroutines.
type Dispatcher struct {
	mu         sync.Mutex
	strategies map[Mode]Strategy
	active     Mode
	log        logger.Logger
}

// NewDispatcher instantiates every strategy in the registry and activates cfg.Mode.
func NewDispatcher(registry *Registry, cfg conf.MotionSettings) (*Dispatcher, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}

	active, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		strategies: make(map[Mode]Strategy),
		log:        GetLogger(),
	}
	for _, mode := range registry.Modes() {
		factory, _ := registry.Lookup(mode)
		s, err := factory(cfg)
		if err != nil {
			d.Close()
			return nil, errors.New(err).
				Component("motion").
				Category(errors.CategoryMotion).
				Context("mode", string(mode)).
				Build()
		}
		d.strategies[mode] = s
	}

	if _, ok := d.strategies[active]; !ok {
		d.Close()
		return nil, d.unknownMode(string(active))
	}
	d.active = active
	d.log.Info("motion dispatcher ready",
		logger.String("mode", active.String()),
		logger.Int("strategies", len(d.strategies)))
	return d, nil
}

// Mode returns the active mode.
func (d *Dispatcher) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// SetMode activates the named mode. Switching resets only the newly active strategy; the
// shared frame history is not touched. Selecting the active mode again is a no-op.
func (d *Dispatcher) SetMode(name string) (Mode, error) {
	mode, err := ParseMode(name)
	if err != nil {
		d.log.Error("rejected detection mode", logger.String("mode", name), logger.Error(err))
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.strategies[mode]
	if !ok {
		return "", d.unknownMode(name)
	}
	if mode == d.active {
		return mode, nil
	}

	s.Reset()
	previous := d.active
	d.active = mode
	d.log.Info("detection mode changed",
		logger.String("from", previous.String()),
		logger.String("to", mode.String()))
	return mode, nil
}

// Dispatch runs the active strategy on frame and history. When the strategy reports a
// foreground, confirm decides whether it is motion. Strategy failures, including panics, are
// returned as errors with motion false.
func (d *Dispatcher) Dispatch(frame gocv.Mat, history *History, confirm ConfirmFunc) (motion bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.strategies[d.active]
	if !ok {
		return false, d.unknownMode(string(d.active))
	}

	result, err := detectSafely(s, frame, history)
	defer result.Close()
	if err != nil {
		return false, err
	}
	if !result.Motion {
		return false, nil
	}
	if confirm == nil {
		return true, nil
	}
	return confirm(result.Mask), nil
}

// Refresh rebuilds long-lived references of the active strategy if it keeps any.
func (d *Dispatcher) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.strategies[d.active].(Refresher); ok {
		r.Refresh()
	}
}

// Close releases every strategy.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for mode, s := range d.strategies {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", mode, err))
		}
	}
	clear(d.strategies)
	return errors.Join(errs...)
}

func (d *Dispatcher) unknownMode(name string) error {
	err := errors.New(ErrUnknownMode).
		Component("motion").
		Category(errors.CategoryMotion).
		Context("mode", name).
		Build()
	d.log.Error("detection mode has no strategy", logger.String("mode", name), logger.Error(err))
	return err
}

func detectSafely(s Strategy, frame gocv.Mat, history *History) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result.Close()
			result = Result{}
			err = errors.Newf("strategy %s panicked: %v", s.Mode(), r).
				Component("motion").
				Category(errors.CategoryMotion).
				Context("mode", string(s.Mode())).
				Build()
		}
	}()

	result, err = s.Detect(frame, history)
	if err != nil {
		result.Close()
		return Result{}, errors.New(err).
			Component("motion").
			Category(errors.CategoryMotion).
			Context("mode", string(s.Mode())).
			Build()
	}
	return result, nil
}
