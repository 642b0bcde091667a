package kyfg

import (
	"fmt"
	"os"
	"path/filepath"
)

// TempDirEnv names the environment variable that overrides the parent of
// directories made by TempDir.
const TempDirEnv = "KYFG_TMPDIR"

// TempDir makes a directory named kyfg-<purpose>-* for files that live as long
// as a source or host process, such as dropped images or the host socket. The
// parent is $KYFG_TMPDIR if set, else /dev/shm if it is a directory, else the
// OS default temporary directory.
func TempDir(purpose string) (string, error) {
	pattern := "kyfg-" + purpose + "-"
	if parent := os.Getenv(TempDirEnv); parent != "" {
		dir, err := os.MkdirTemp(parent, pattern)
		if err != nil {
			return "", fmt.Errorf("%s: %v", TempDirEnv, err)
		}
		return dir, nil
	}
	// Only use /dev/shm if it is a directory, so we never create one in /dev.
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		if dir, err := os.MkdirTemp("/dev/shm", pattern); err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", pattern)
}

// SocketDir is TempDir for a directory holding a unix socket named sockName.
// It fails when the socket path would not fit in a socket address.
func SocketDir(purpose, sockName string) (string, error) {
	dir, err := TempDir(purpose)
	if err != nil {
		return "", err
	}
	if p := filepath.Join(dir, sockName); len(p) > maxSocketPath {
		os.RemoveAll(dir)
		return "", fmt.Errorf("socket path %s longer than %d bytes, set %s to a shorter directory", p, maxSocketPath, TempDirEnv)
	}
	return dir, nil
}

// maxSocketPath is the smallest sun_path size of the supported systems
// (104 on macOS, 108 on Linux).
const maxSocketPath = 104
