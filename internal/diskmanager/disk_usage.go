// Package diskmanager guards the recordings volume against running full.
package diskmanager

import (
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/motioncam/internal/errors"
)

// DiskSpaceInfo holds detailed disk space information.
type DiskSpaceInfo struct {
	TotalBytes  uint64
	UsedBytes   uint64
	UsedPercent float64
}

// GetDiskUsage returns the usage percentage of the filesystem containing path.
func GetDiskUsage(path string) (float64, error) {
	info, err := GetDetailedDiskUsage(path)
	if err != nil {
		return 0, err
	}
	return info.UsedPercent, nil
}

// GetDetailedDiskUsage returns total and used bytes of the filesystem containing path.
func GetDetailedDiskUsage(path string) (DiskSpaceInfo, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskSpaceInfo{}, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryDiskUsage).
			Context("path", path).
			Build()
	}
	return DiskSpaceInfo{
		TotalBytes:  usage.Total,
		UsedBytes:   usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}
