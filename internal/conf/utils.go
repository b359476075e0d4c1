// conf/utils.go various util functions for configuration package
package conf

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

const (
	appName   = "motioncam"
	osWindows = "windows"
)

// GetDefaultConfigPaths returns the configuration directories for the current operating system.
// If config.yaml exists in one of them, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case osWindows:
		exePath, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategorySystem).
				Context("operation", "get-executable-path").
				Build()
		}
		configPaths = []string{
			filepath.Dir(exePath),
			filepath.Join(homeDir, "AppData", "Roaming", appName),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", appName),
			"/etc/" + appName,
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// FindConfigFile locates the configuration file.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "find-config-paths").
			Build()
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Category(errors.CategoryFileIO).
		Context("operation", "find-config-file").
		Build()
}

// GetBasePath expands environment variables in path and creates the directory if missing.
func GetBasePath(path string) string {
	basePath := filepath.Clean(os.ExpandEnv(path))

	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		if err := os.MkdirAll(basePath, 0o750); err != nil {
			GetLogger().Warn("failed to create directory",
				logger.String("path", basePath),
				logger.Error(err))
		}
	}

	return basePath
}

// GetFfmpegBinaryName returns the binary name for ffmpeg based on the current OS.
func GetFfmpegBinaryName() string {
	if runtime.GOOS == osWindows {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// GetFfprobeBinaryName returns the binary name for ffprobe based on the current OS.
func GetFfprobeBinaryName() string {
	if runtime.GOOS == osWindows {
		return "ffprobe.exe"
	}
	return "ffprobe"
}

// ValidateToolPath returns configuredPath if it names an existing file, otherwise
// the result of looking toolName up in PATH.
func ValidateToolPath(configuredPath, toolName string) (string, error) {
	if configuredPath != "" {
		if info, err := os.Stat(configuredPath); err == nil && !info.IsDir() {
			return configuredPath, nil
		}
		GetLogger().Warn("configured tool path invalid or not found, checking system PATH",
			logger.String("configured_path", configuredPath),
			logger.String("tool", toolName))
	}

	pathFromLookPath, err := exec.LookPath(toolName)
	if err == nil {
		return pathFromLookPath, nil
	}

	if configuredPath != "" {
		return "", fmt.Errorf("tool '%s' not found at configured path '%s' or in system PATH", toolName, configuredPath)
	}
	return "", fmt.Errorf("tool '%s' not found in system PATH and no path configured", toolName)
}

// ParsePercentage converts a percentage string (e.g., "80%") to a float64
func ParsePercentage(percentage string) (float64, error) {
	if before, ok := strings.CutSuffix(strings.TrimSpace(percentage), "%"); ok {
		value, err := strconv.ParseFloat(before, 64)
		if err != nil {
			return 0, err
		}
		return value, nil
	}
	return 0, errors.Newf("invalid percentage format").
		Component("conf").
		Category(errors.CategoryValidation).
		Context("input", percentage).
		Build()
}

// MoveFile moves a file from src to dst, falling back to copy and delete across devices.
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("error resolving source path: %w", err)
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("error resolving destination path: %w", err)
	}

	srcFile, err := os.Open(srcAbs) //nolint:gosec // G304: srcAbs is filepath.Abs resolved path
	if err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			GetLogger().Warn("failed to close source file", logger.Error(err))
		}
	}()

	dstFile, err := os.Create(dstAbs) //nolint:gosec // G304: dstAbs is filepath.Abs resolved path
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return fmt.Errorf("error copying file contents: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("error closing destination file: %w", err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("error removing source file after copy: %w", err)
	}

	return nil
}
