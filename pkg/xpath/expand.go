package xpath

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// AndroidHomeDir is the application data directory used instead of the
// home directory on Android, where there is no such thing.
var AndroidHomeDir = "/data/user/0/center.dx.ambientscribe/files"

// Expand replaces the leading "~/" with the home directory.
func Expand(rawPath string) (string, error) {
	if rawPath == "~" {
		return homeDir()
	}
	if !strings.HasPrefix(rawPath, "~/") {
		return rawPath, nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, rawPath[2:]), nil
}

func homeDir() (string, error) {
	if runtime.GOOS == "android" {
		return AndroidHomeDir, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to get user home dir: %w", err)
	}
	return dir, nil
}
