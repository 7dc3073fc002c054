package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"bindery/internal/config"
	"bindery/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckAudibleProfile verifies the audible CLI has been set up under home.
// Downloads and library syncs fail without an authenticated profile.
func CheckAudibleProfile(home string) Result {
	const name = "Audible profile"
	path := filepath.Join(home, ".audible", "config.toml")
	if _, err := os.Stat(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s missing (run: HOME=%s audible quickstart)", path, home)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: unreadable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckSystemDeps evaluates the binaries used for conversion and sync. Both
// the daemon and the CLI status command use it.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	return deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "audible-cli",
			Command:     cfg.Conversion.AudibleBinary,
			Description: "Required for library sync and downloads",
		},
		{
			Name:        "FFmpeg",
			Command:     cfg.Conversion.FFmpegBinary,
			Description: "Required for encoding and merging",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Conversion.FFprobeBinary,
			Description: "Required for tag inspection during deep sync",
		},
	})
}
