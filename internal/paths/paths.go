// Package paths provides platform-specific path resolution for moodle-mcp.
package paths

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// AppName is the application name used in paths.
	AppName = "moodle-mcp"

	// ConfigEnv names the environment variable that points at an explicit
	// config file.
	ConfigEnv = "MOODLE_MCP_CONFIG"

	configFileName = AppName + ".yaml"
)

// ConfigCandidates returns the config file locations to try, highest
// priority first.
//
// Resolution order:
//  1. MOODLE_MCP_CONFIG environment variable (if set)
//  2. Container-tools layout: {exe}/../../etc/moodle-mcp.yaml (if in container-tools)
//  3. Standalone layout: {exe}/../etc/moodle-mcp.yaml
//  4. User config dir: {UserConfigDir}/moodle-mcp/config.yaml
func ConfigCandidates() []string {
	exePath, err := os.Executable()
	if err == nil {
		// Resolve symlinks to get the real path
		if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
			exePath = resolved
		}
	} else {
		exePath = ""
	}

	userDir, err := os.UserConfigDir()
	if err != nil {
		userDir = ""
	}

	return candidates(os.Getenv(ConfigEnv), exePath, userDir)
}

func candidates(explicit, exePath, userDir string) []string {
	var out []string

	// Priority 1: Explicit environment variable override
	if explicit != "" {
		out = append(out, explicit)
	}

	if exePath != "" {
		exeDir := filepath.Dir(exePath)

		// Priority 2: Container-tools layout detection
		// Path pattern: /opt/container-tools/moodle-mcp/bin/moodle-mcp
		// Config location: /opt/container-tools/etc/moodle-mcp.yaml
		if isContainerToolsInstall(exePath) {
			containerToolsRoot := filepath.Dir(filepath.Dir(exeDir))
			out = append(out, filepath.Join(containerToolsRoot, "etc", configFileName))
		}

		// Priority 3: Standalone layout
		// Binary at: {install}/bin/moodle-mcp
		// Config at: {install}/etc/moodle-mcp.yaml
		out = append(out, filepath.Join(filepath.Dir(exeDir), "etc", configFileName))
	}

	// Priority 4: Per-user config (XDG on Linux, Application Support on
	// macOS, %AppData% on Windows)
	if userDir != "" {
		out = append(out, filepath.Join(userDir, AppName, "config.yaml"))
	}

	return out
}

// FindConfigFile returns the first config file that exists, or "" when
// there is none. A file named by MOODLE_MCP_CONFIG must exist.
func FindConfigFile() (string, error) {
	return find(os.Getenv(ConfigEnv), ConfigCandidates())
}

func find(explicit string, candidates []string) (string, error) {
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config path %s is a directory", path)
			}
			return path, nil
		}
		if path == explicit {
			return "", fmt.Errorf("%s is set but unreadable: %w", ConfigEnv, err)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}
	return "", nil
}

// isContainerToolsInstall checks if the executable is running from a container-tools installation.
func isContainerToolsInstall(exePath string) bool {
	// Normalize path separators for comparison
	normalizedPath := filepath.ToSlash(exePath)
	return strings.Contains(normalizedPath, "container-tools/")
}
