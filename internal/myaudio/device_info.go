package myaudio

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// DeviceInfo describes an audio capture device.
type DeviceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// ListDevices returns the available capture devices.
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "init_context").
			Build()
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "list_devices").
			Build()
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			GetLogger().Debug("skipping device with undecodable id",
				logger.Int("index", i), logger.Error(err))
			continue
		}
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodedID,
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices, nil
}

// matchesDevice reports whether a device matches the configured source name or ID.
func matchesDevice(decodedID string, info *malgo.DeviceInfo, source string) bool {
	if runtime.GOOS == "windows" && source == "sysdefault" {
		// Windows has no sysdefault device, use miniaudio's default instead
		return info.IsDefault == 1
	}
	return decodedID == source || strings.Contains(info.Name(), source)
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// formatToString converts a malgo format type to a human-readable string.
func formatToString(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "16-bit signed PCM"
	case malgo.FormatU8:
		return "8-bit unsigned PCM"
	case malgo.FormatS24:
		return "24-bit signed PCM"
	case malgo.FormatS32:
		return "32-bit signed PCM"
	case malgo.FormatF32:
		return "32-bit floating point"
	default:
		return fmt.Sprintf("unknown format (%d)", format)
	}
}
