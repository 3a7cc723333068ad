// Package platform detects the host environment the provisioner runs in:
// the operating-system family and the hosting layout convention around the
// caller's working directory.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

// OSFamily is the closed set of operating-system branches the provisioner
// distinguishes. There is deliberately no finer differentiation.
type OSFamily int

const (
	// FamilyDarwin covers macOS-like hosts provisioned through Homebrew.
	FamilyDarwin OSFamily = iota
	// FamilyLinux covers everything else, provisioned through apt.
	FamilyLinux
)

// String returns the family name for logs.
func (f OSFamily) String() string {
	if f == FamilyDarwin {
		return "darwin"
	}
	return "linux"
}

// DetectOS maps the Go runtime's OS onto the two supported families.
func DetectOS() OSFamily {
	return detectOS(runtime.GOOS)
}

func detectOS(goos string) OSFamily {
	if goos == "darwin" {
		return FamilyDarwin
	}
	return FamilyLinux
}

// Env describes the detected host environment for one run.
type Env struct {
	OS OSFamily

	// PublicDir is the hosting layout's web root, resolved from the working
	// directory. Empty when the caller runs from neither the project root
	// nor the public directory; steps that write there are then skipped.
	PublicDir string
}

// publicDirNames are the web-root directory names the hosting layout uses.
var publicDirNames = []string{"public_html", "public"}

// Detect resolves the environment for the current process.
func Detect() (Env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Env{}, err
	}
	return Env{
		OS:        DetectOS(),
		PublicDir: resolvePublicDir(cwd),
	}, nil
}

// resolvePublicDir applies the working-directory convention: running from
// inside the public directory, or from a project root that contains one.
// Anything else leaves the public dir unset.
func resolvePublicDir(cwd string) string {
	base := filepath.Base(cwd)
	for _, name := range publicDirNames {
		if base == name {
			return cwd
		}
	}
	for _, name := range publicDirNames {
		candidate := filepath.Join(cwd, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}
