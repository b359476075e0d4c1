package observability

import "github.com/tphakala/motioncam/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("telemetry")
