package clients

import (
	"context"
	"fmt"
	"strings"
)

// PackageManager installs host packages for one OS family.
type PackageManager interface {
	// Refresh updates the package index, when the platform has one.
	Refresh(ctx context.Context) error

	// Install installs the named packages.
	Install(ctx context.Context, packages ...string) error
}

// homebrewBootstrap is the upstream Homebrew install command.
const homebrewBootstrap = `/bin/bash -c "$(curl -fsSL https://raw.githubusercontent.com/Homebrew/install/HEAD/install.sh)"`

// Brew drives Homebrew on the macOS-like branch, bootstrapping it first
// when absent.
type Brew struct {
	Runner   Runner
	LookPath LookPath
}

// NewBrew returns a Homebrew-backed package manager.
func NewBrew(runner Runner, lookPath LookPath) *Brew {
	return &Brew{Runner: runner, LookPath: lookPath}
}

// Refresh bootstraps Homebrew itself when the brew command is missing.
func (b *Brew) Refresh(ctx context.Context) error {
	if _, err := b.LookPath("brew"); err == nil {
		return nil
	}
	out, _, err := b.Runner.Run(ctx, "bash", "-c", homebrewBootstrap)
	if err != nil {
		return fmt.Errorf("homebrew bootstrap: %w: %s", err, firstLine(out))
	}
	return nil
}

// Install runs `brew install` for the given packages.
func (b *Brew) Install(ctx context.Context, packages ...string) error {
	args := append([]string{"install"}, packages...)
	out, _, err := b.Runner.Run(ctx, "brew", args...)
	if err != nil {
		return fmt.Errorf("brew install %s: %w: %s", strings.Join(packages, " "), err, firstLine(out))
	}
	return nil
}

// Apt drives apt-get on the Linux-like branch.
type Apt struct {
	Runner Runner
}

// NewApt returns an apt-get-backed package manager.
func NewApt(runner Runner) *Apt {
	return &Apt{Runner: runner}
}

// Refresh runs `apt-get update`.
func (a *Apt) Refresh(ctx context.Context) error {
	out, _, err := a.Runner.Run(ctx, "sudo", "apt-get", "update")
	if err != nil {
		return fmt.Errorf("apt-get update: %w: %s", err, firstLine(out))
	}
	return nil
}

// Install runs `apt-get install -y` for the given packages.
func (a *Apt) Install(ctx context.Context, packages ...string) error {
	args := append([]string{"apt-get", "install", "-y"}, packages...)
	out, _, err := a.Runner.Run(ctx, "sudo", args...)
	if err != nil {
		return fmt.Errorf("apt-get install %s: %w: %s", strings.Join(packages, " "), err, firstLine(out))
	}
	return nil
}
