// Package provision runs the provisioning workflow: one strictly ordered
// pipeline from preflight checks through database creation. Every step
// returns an explicit error; any failure aborts the run after cleanup.
package provision

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/wptestenv/wptestenv/pkg/clients"
	"github.com/wptestenv/wptestenv/pkg/config"
	"github.com/wptestenv/wptestenv/pkg/core"
	"github.com/wptestenv/wptestenv/pkg/database"
	"github.com/wptestenv/wptestenv/pkg/fetch"
	"github.com/wptestenv/wptestenv/pkg/log"
	"github.com/wptestenv/wptestenv/pkg/phpunit"
	"github.com/wptestenv/wptestenv/pkg/platform"
	"github.com/wptestenv/wptestenv/pkg/preflight"
	"github.com/wptestenv/wptestenv/pkg/resolver"
	"github.com/wptestenv/wptestenv/pkg/testlib"
	"github.com/wptestenv/wptestenv/pkg/wpconfig"
)

// Options are the run parameters from the CLI flags.
type Options struct {
	// RunnerVersion is a runner major ("7"), "latest", or empty to derive
	// one from the host's PHP version.
	RunnerVersion string

	// FrameworkVersion is a concrete version, "latest", "trunk", or
	// "nightly".
	FrameworkVersion string

	// TestLibVersion defaults to the resolved framework version.
	TestLibVersion string

	// UpdatePackages forces the prerequisite install/update branch.
	UpdatePackages bool
}

// Paths are the fixed temporary locations one run uses. They are fixed so
// a later run can purge leftovers from a crashed prior run.
type Paths struct {
	CoreStaging   string
	TestsStaging  string
	RunnerStaging string
	ConfigCopy    string
	DBCredentials string
}

// DefaultPaths returns the fixed staging locations under the system temp
// directory.
func DefaultPaths() Paths {
	tmp := os.TempDir()
	return Paths{
		CoreStaging:   filepath.Join(tmp, "wptestenv-core-staging"),
		TestsStaging:  filepath.Join(tmp, "wptestenv-tests-staging"),
		RunnerStaging: filepath.Join(tmp, "wptestenv-runner-staging"),
		ConfigCopy:    filepath.Join(tmp, "wp-tests-config.php"),
		DBCredentials: filepath.Join(tmp, "wptestenv-mysql.cnf"),
	}
}

// Cleanup removes every temporary path. It is idempotent and runs at the
// start of a run, on success, and on every fatal path.
func (p Paths) Cleanup() error {
	for _, dir := range []string{p.CoreStaging, p.TestsStaging, p.RunnerStaging} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("cleanup %s: %w", dir, err)
		}
	}
	for _, file := range []string{p.ConfigCopy, p.DBCredentials} {
		if file == "" {
			continue
		}
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cleanup %s: %w", file, err)
		}
	}
	return nil
}

// The pipeline consumes its collaborators through narrow interfaces so
// tests can run it entirely against fakes.
type (
	prereqEnsurer interface {
		Ensure(ctx context.Context, update bool) error
	}
	latestResolver interface {
		LatestFramework(ctx context.Context) (string, error)
	}
	releaseResolver interface {
		LatestMajor(ctx context.Context) (int, error)
	}
	runnerInstaller interface {
		Install(ctx context.Context, major int) error
	}
	treeInstaller interface {
		Install(ctx context.Context, channel resolver.Channel, dir string) error
	}
	configGenerator interface {
		Generate() error
	}
	dbEnsurer interface {
		Ensure(ctx context.Context) error
	}
)

// Pipeline executes the provisioning steps in order.
type Pipeline struct {
	Options  Options
	Settings config.Settings
	Env      platform.Env
	Paths    Paths

	Runner    clients.Runner
	Preflight prereqEnsurer
	Remote    latestResolver
	Releases  releaseResolver
	Installer runnerInstaller
	Core      treeInstaller
	TestLib   treeInstaller
	Config    configGenerator
	DB        dbEnsurer
}

// New wires a production pipeline for the given environment.
func New(opts Options, settings config.Settings, env platform.Env) *Pipeline {
	paths := DefaultPaths()
	runner := clients.ExecRunner{}
	fetcher := fetch.NewHTTPFetcher()
	exporter := clients.NewSVNExporter(runner)
	syncer := clients.NewRsyncSyncer(runner)

	return &Pipeline{
		Options:   opts,
		Settings:  settings,
		Env:       env,
		Paths:     paths,
		Runner:    runner,
		Preflight: preflight.NewService(env.OS, runner, exec.LookPath),
		Remote:    resolver.NewRemote(),
		Releases:  nil, // built lazily; needs a context for the token source
		Installer: phpunit.NewInstaller(fetcher, paths.RunnerStaging),
		Core:      core.NewService(fetcher, exporter, syncer, paths.CoreStaging),
		TestLib:   testlib.NewService(exporter, syncer, paths.TestsStaging),
		Config: &wpconfig.Generator{
			OS:              env.OS,
			Settings:        settings,
			PublicDir:       env.PublicDir,
			StagingCopyPath: paths.ConfigCopy,
		},
		DB: &database.Provisioner{
			Client:       database.NewMySQL(runner, paths.DBCredentials),
			DB:           settings.DB,
			DefaultsFile: paths.DBCredentials,
		},
	}
}

// Run executes every step in order. Stale staging from an interrupted
// prior run is purged first, and cleanup always runs before returning.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if cleanupErr := p.Paths.Cleanup(); cleanupErr != nil {
		return cleanupErr
	}
	defer func() {
		if cleanupErr := p.Paths.Cleanup(); cleanupErr != nil && err == nil {
			err = cleanupErr
		}
	}()

	if err := p.Preflight.Ensure(ctx, p.Options.UpdatePackages); err != nil {
		return err
	}

	runnerMajor, err := p.resolveRunnerMajor(ctx)
	if err != nil {
		return err
	}

	frameworkVersion, err := p.resolveFrameworkVersion(ctx)
	if err != nil {
		return err
	}
	frameworkChannel := resolver.FrameworkChannel(frameworkVersion)
	libChannel := resolver.TestLibChannel(p.Options.TestLibVersion, frameworkVersion)

	if err := os.MkdirAll(p.Paths.RunnerStaging, 0o755); err != nil {
		return fmt.Errorf("prepare staging: %w", err)
	}
	if err := p.Installer.Install(ctx, runnerMajor); err != nil {
		return err
	}

	if err := p.Core.Install(ctx, frameworkChannel, p.Settings.CoreDir); err != nil {
		return err
	}
	if err := p.TestLib.Install(ctx, libChannel, p.Settings.TestsDir); err != nil {
		return err
	}
	if err := p.Config.Generate(); err != nil {
		return err
	}
	if err := p.DB.Ensure(ctx); err != nil {
		return err
	}

	log.Info("provisioning complete",
		"framework", frameworkVersion, "runner", runnerMajor, "core", p.Settings.CoreDir)
	return nil
}

// resolveRunnerMajor picks the runner major: an explicit major wins, then
// a floating "latest" release lookup, then the PHP compatibility table.
// The resolved value is immutable for the rest of the run.
func (p *Pipeline) resolveRunnerMajor(ctx context.Context) (int, error) {
	switch p.Options.RunnerVersion {
	case "":
		phpVersion, err := resolver.DetectPHPVersion(ctx, p.Runner)
		if err != nil {
			return 0, err
		}
		major := resolver.RunnerMajorFor(phpVersion)
		log.Debug("selected runner from php version", "php", phpVersion, "runner", major)
		return major, nil

	case "latest":
		releases := p.Releases
		if releases == nil {
			releases = phpunit.NewReleaseClient(ctx)
		}
		return releases.LatestMajor(ctx)

	default:
		major, err := strconv.Atoi(p.Options.RunnerVersion)
		if err != nil || major <= 0 {
			return 0, fmt.Errorf("invalid runner version %q", p.Options.RunnerVersion)
		}
		return major, nil
	}
}

// resolveFrameworkVersion turns "latest" into a concrete version through
// the metadata endpoint; trunk, nightly, and literals pass through.
func (p *Pipeline) resolveFrameworkVersion(ctx context.Context) (string, error) {
	version := p.Options.FrameworkVersion
	if version == "" || version == "latest" {
		resolved, err := p.Remote.LatestFramework(ctx)
		if err != nil {
			return "", err
		}
		log.Info("resolved framework version", "version", resolved)
		return resolved, nil
	}
	return version, nil
}
