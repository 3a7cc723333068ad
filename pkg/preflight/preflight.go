// Package preflight verifies the external tools the provisioning workflow
// depends on and installs the missing ones through the platform's package
// manager.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wptestenv/wptestenv/pkg/clients"
	"github.com/wptestenv/wptestenv/pkg/log"
	"github.com/wptestenv/wptestenv/pkg/platform"
)

// ErrToolMissing reports tools still absent after the install branch ran.
var ErrToolMissing = errors.New("missing packages")

// Tool is one required external tool and its package name per platform.
// An empty package name means the tool is not installed on that branch.
type Tool struct {
	Name string
	Brew string
	Apt  string
}

// RequiredTools is the fixed set the workflow needs: a downloader, a
// mirror-copy tool, a version-control export tool, a DVCS client, and the
// dependency-manager client. Composer is never installed through a package
// manager: the macOS-like hosting environment provides it, and the
// Linux-like branch bootstraps it separately.
var RequiredTools = []Tool{
	{Name: "curl", Brew: "curl", Apt: "curl"},
	{Name: "rsync", Apt: "rsync"},
	{Name: "svn", Brew: "subversion", Apt: "subversion"},
	{Name: "git", Apt: "git"},
	{Name: "composer"},
}

// composerBootstrap installs the composer client into the given directory.
const composerBootstrap = `curl -sS https://getcomposer.org/installer | php -- --install-dir=%s --filename=composer`

// Service checks and installs prerequisites for one OS family.
type Service struct {
	OS       platform.OSFamily
	Runner   clients.Runner
	LookPath clients.LookPath
	Packages clients.PackageManager

	// StartupFile is the user's shell-startup file; the Linux-like branch
	// records the composer PATH adjustment there.
	StartupFile string

	// ComposerDir is where the composer bootstrap installs the client.
	ComposerDir string
}

// NewService wires a Service for the detected OS family.
func NewService(osFamily platform.OSFamily, runner clients.Runner, lookPath clients.LookPath) *Service {
	home, _ := os.UserHomeDir()

	var packages clients.PackageManager
	if osFamily == platform.FamilyDarwin {
		packages = clients.NewBrew(runner, lookPath)
	} else {
		packages = clients.NewApt(runner)
	}

	return &Service{
		OS:          osFamily,
		Runner:      runner,
		LookPath:    lookPath,
		Packages:    packages,
		StartupFile: filepath.Join(home, ".bashrc"),
		ComposerDir: filepath.Join(home, "bin"),
	}
}

// Ensure verifies all required tools, running the install/update branch
// when any is missing or update is set, then re-verifies. Tools still
// missing afterwards are a fatal ErrToolMissing.
func (s *Service) Ensure(ctx context.Context, update bool) error {
	missing := s.missing()
	if len(missing) == 0 && !update {
		log.Debug("all required tools present")
		return nil
	}

	log.Info("installing prerequisites", "os", s.OS.String(), "missing", strings.Join(missing, ","))
	if err := s.install(ctx); err != nil {
		return err
	}

	if still := s.missing(); len(still) > 0 {
		return fmt.Errorf("%w: %s", ErrToolMissing, strings.Join(still, ", "))
	}
	return nil
}

// missing returns the required tools that do not resolve to an executable.
func (s *Service) missing() []string {
	var missing []string
	for _, tool := range RequiredTools {
		if !s.present(tool.Name) {
			missing = append(missing, tool.Name)
		}
	}
	return missing
}

// present resolves a tool on PATH. Composer gets a direct probe of
// ComposerDir as well: the bootstrap records its PATH line in the startup
// file, which only takes effect in future shells, not in this process.
func (s *Service) present(name string) bool {
	if _, err := s.LookPath(name); err == nil {
		return true
	}
	if name == "composer" && s.ComposerDir != "" {
		if info, err := os.Stat(filepath.Join(s.ComposerDir, "composer")); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

func (s *Service) install(ctx context.Context) error {
	if s.OS == platform.FamilyDarwin {
		return s.installDarwin(ctx)
	}
	return s.installLinux(ctx)
}

// installDarwin bootstraps Homebrew when absent and installs the brew-
// managed tools. Composer is provided by the hosting environment on this
// branch and is not installed here.
func (s *Service) installDarwin(ctx context.Context) error {
	if err := s.Packages.Refresh(ctx); err != nil {
		return err
	}

	var packages []string
	for _, tool := range RequiredTools {
		if tool.Brew != "" {
			packages = append(packages, tool.Brew)
		}
	}
	return s.Packages.Install(ctx, packages...)
}

// installLinux refreshes the package index, installs the apt-managed
// tools, and bootstraps composer separately when absent.
func (s *Service) installLinux(ctx context.Context) error {
	if err := s.Packages.Refresh(ctx); err != nil {
		return err
	}

	var packages []string
	for _, tool := range RequiredTools {
		if tool.Apt != "" {
			packages = append(packages, tool.Apt)
		}
	}
	if err := s.Packages.Install(ctx, packages...); err != nil {
		return err
	}

	if s.present("composer") {
		return nil
	}
	return s.bootstrapComposer(ctx)
}

func (s *Service) bootstrapComposer(ctx context.Context) error {
	if err := os.MkdirAll(s.ComposerDir, 0o755); err != nil {
		return fmt.Errorf("composer install dir: %w", err)
	}

	out, _, err := s.Runner.Run(ctx, "bash", "-c", fmt.Sprintf(composerBootstrap, s.ComposerDir))
	if err != nil {
		return fmt.Errorf("composer bootstrap: %w: %s", err, strings.TrimSpace(out))
	}

	pathLine := fmt.Sprintf(`export PATH="%s:$PATH"`, s.ComposerDir)
	if err := appendLineOnce(s.StartupFile, pathLine); err != nil {
		return fmt.Errorf("record composer PATH: %w", err)
	}
	return nil
}

// appendLineOnce appends line to the file unless it is already present.
func appendLineOnce(path, line string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if strings.Contains(string(data), line) {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		line = "\n" + line
	}
	_, err = f.WriteString(line + "\n")
	return err
}
