package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// ErrThrottled is returned by Notify when the token bucket has no token left.
var ErrThrottled = errors.Newf("notification throttled").
	Component("notification").
	Category(errors.CategoryLimit).
	Build()

// Notifier delivers a motion alert for a saved still image.
type Notifier interface {
	Notify(ctx context.Context, userID, imagePath string) error
}

// sender is the subset of the shoutrrr router used here.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Config holds shoutrrr notifier settings.
type Config struct {
	URLs     []string
	Title    string
	NodeName string
	Capacity float64
	Rate     float64
	Timeout  time.Duration
}

// ShoutrrrNotifier sends alerts to every configured shoutrrr URL.
// Each call consumes one token; throttled calls return ErrThrottled without sending.
type ShoutrrrNotifier struct {
	sender   sender
	bucket   *TokenBucket
	title    string
	nodeName string
	log      logger.Logger
}

// NewShoutrrrNotifier validates the URLs and builds a single sender for all of them.
func NewShoutrrrNotifier(cfg Config) (*ShoutrrrNotifier, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	router, err := shoutrrr.CreateSender(slices.Clone(cfg.URLs)...)
	if err != nil {
		// URLs carry tokens, keep them out of the error text
		return nil, errors.Newf("invalid notification URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(cfg.URLs)).
			Build()
	}
	if cfg.Timeout > 0 {
		router.Timeout = cfg.Timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))

	return newNotifier(router, NewTokenBucket(cfg.Capacity, cfg.Rate), cfg), nil
}

func newNotifier(s sender, bucket *TokenBucket, cfg Config) *ShoutrrrNotifier {
	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		title = "Motion detected"
	}
	return &ShoutrrrNotifier{
		sender:   s,
		bucket:   bucket,
		title:    title,
		nodeName: cfg.NodeName,
		log:      GetLogger(),
	}
}

// Notify sends one alert if a token is available.
func (n *ShoutrrrNotifier) Notify(ctx context.Context, userID, imagePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !n.bucket.Consume(1) {
		n.log.Debug("notification throttled",
			logger.String("user_id", userID),
			logger.Float64("tokens", n.bucket.Tokens()))
		return ErrThrottled
	}

	params := stypes.Params{}
	params.SetTitle(n.title)

	errs := n.sender.Send(n.message(userID, imagePath), &params)
	for _, e := range errs {
		if e == nil {
			continue
		}
		return errors.Newf("notification send failed: %s", logger.RedactSensitiveData(e.Error())).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("user_id", userID).
			Build()
	}

	n.log.Info("notification sent",
		logger.String("user_id", userID),
		logger.String("image", filepath.Base(imagePath)))
	return nil
}

func (n *ShoutrrrNotifier) message(userID, imagePath string) string {
	var sb strings.Builder
	if n.nodeName != "" {
		fmt.Fprintf(&sb, "Motion detected by %s", n.nodeName)
	} else {
		sb.WriteString("Motion detected")
	}
	fmt.Fprintf(&sb, " at %s", time.Now().Format(time.DateTime))
	if userID != "" {
		fmt.Fprintf(&sb, " for %s", userID)
	}
	if imagePath != "" {
		fmt.Fprintf(&sb, "\nImage: %s", filepath.Base(imagePath))
	}
	return sb.String()
}

// Noop discards notifications. Used when notifications are disabled.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, string, string) error { return nil }
