package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveLicenseRoot returns an absolute directory under which the .pro state
// directory lives. A leading ~ expands to the home directory; an empty value
// falls back to DefaultLicenseRoot.
func ResolveLicenseRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return DefaultLicenseRoot()
	}

	if root == "~" || strings.HasPrefix(root, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		root = filepath.Join(home, strings.TrimPrefix(root, "~"))
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve license root %q: %w", root, err)
	}
	return abs, nil
}

// DefaultLicenseRoot is the per-user configuration directory for the application.
func DefaultLicenseRoot() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, AppDirName), nil
}
