package common

import (
	"os"
)

// expandLogDirPath resolves $VAR / ${VAR} placeholders in the log directory
// flag so deployments can point --log-dir at an environment-defined root.
func expandLogDirPath(path string) string {
	if path == "" {
		return ""
	}
	return os.ExpandEnv(path)
}
