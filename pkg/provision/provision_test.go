package provision

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wptestenv/wptestenv/pkg/clients"
	"github.com/wptestenv/wptestenv/pkg/config"
	"github.com/wptestenv/wptestenv/pkg/core"
	"github.com/wptestenv/wptestenv/pkg/database"
	"github.com/wptestenv/wptestenv/pkg/fetch"
	"github.com/wptestenv/wptestenv/pkg/platform"
	"github.com/wptestenv/wptestenv/pkg/resolver"
	"github.com/wptestenv/wptestenv/pkg/testlib"
	"github.com/wptestenv/wptestenv/pkg/wpconfig"
)

// recorder implements every pipeline collaborator and records the call
// order. Any step named in failAt returns a canned error.
type recorder struct {
	calls   []string
	failAt  string
	writeTo string // when set, Install steps drop a file here first

	frameworkChannel resolver.Channel
	libChannel       resolver.Channel
	runnerMajor      int
}

func (r *recorder) step(name string) error {
	if r.writeTo != "" {
		_ = os.MkdirAll(r.writeTo, 0o755)
		_ = os.WriteFile(filepath.Join(r.writeTo, name), []byte(name), 0o644)
	}
	r.calls = append(r.calls, name)
	if name == r.failAt {
		return errors.New(name + " failed")
	}
	return nil
}

func (r *recorder) Ensure(ctx context.Context, update bool) error { return r.step("preflight") }

func (r *recorder) LatestFramework(ctx context.Context) (string, error) {
	if err := r.step("resolve"); err != nil {
		return "", err
	}
	return "6.4.2", nil
}

func (r *recorder) LatestMajor(ctx context.Context) (int, error) {
	if err := r.step("releases"); err != nil {
		return 0, err
	}
	return 9, nil
}

func (r *recorder) Install(ctx context.Context, major int) error {
	r.runnerMajor = major
	return r.step("runner")
}

func (r *recorder) Generate() error { return r.step("config") }

func (r *recorder) EnsureDB(ctx context.Context) error { return r.step("database") }

// dbStep adapts the recorder's EnsureDB to the dbEnsurer seam; Ensure is
// already taken by the preflight seam.
type dbStep struct{ r *recorder }

func (d dbStep) Ensure(ctx context.Context) error { return d.r.EnsureDB(ctx) }

// treeStep records an install for one tree and keeps the channel it saw.
type treeStep struct {
	r    *recorder
	name string
}

func (t treeStep) Install(ctx context.Context, channel resolver.Channel, dir string) error {
	if t.name == "core" {
		t.r.frameworkChannel = channel
	} else {
		t.r.libChannel = channel
	}
	return t.r.step(t.name)
}

func testPaths(t *testing.T) Paths {
	t.Helper()
	tmp := t.TempDir()
	return Paths{
		CoreStaging:   filepath.Join(tmp, "core-staging"),
		TestsStaging:  filepath.Join(tmp, "tests-staging"),
		RunnerStaging: filepath.Join(tmp, "runner-staging"),
		ConfigCopy:    filepath.Join(tmp, "wp-tests-config.php"),
		DBCredentials: filepath.Join(tmp, "mysql.cnf"),
	}
}

func testPipeline(rec *recorder, paths Paths) *Pipeline {
	return &Pipeline{
		Options: Options{
			RunnerVersion:    "7",
			FrameworkVersion: "latest",
		},
		Settings:  config.Defaults(),
		Env:       platform.Env{OS: platform.FamilyLinux},
		Paths:     paths,
		Preflight: rec,
		Remote:    rec,
		Releases:  rec,
		Installer: rec,
		Core:      treeStep{r: rec, name: "core"},
		TestLib:   treeStep{r: rec, name: "testlib"},
		Config:    rec,
		DB:        dbStep{r: rec},
	}
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	rec := &recorder{}
	p := testPipeline(rec, testPaths(t))

	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{
		"preflight", "resolve", "runner", "core", "testlib", "config", "database",
	}, rec.calls)
	assert.Equal(t, 7, rec.runnerMajor)
	assert.Equal(t, resolver.Channel{Kind: resolver.KindTagged, Version: "6.4.2"}, rec.frameworkChannel)
	assert.Equal(t, rec.frameworkChannel, rec.libChannel, "test library should follow the framework version")
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	rec := &recorder{failAt: "testlib"}
	p := testPipeline(rec, testPaths(t))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"preflight", "resolve", "runner", "core", "testlib"}, rec.calls)
}

func TestRunPurgesStaleArtifactsBeforeStarting(t *testing.T) {
	paths := testPaths(t)

	// Leftovers from a crashed prior run.
	require.NoError(t, os.MkdirAll(paths.CoreStaging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(paths.CoreStaging, "stale.php"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(paths.DBCredentials, []byte("[client]"), 0o600))

	rec := &recorder{}
	p := testPipeline(rec, paths)
	require.NoError(t, p.Run(context.Background()))

	assert.NoDirExists(t, paths.CoreStaging)
	assert.NoFileExists(t, paths.DBCredentials)
}

func TestRunCleansUpOnFatalPath(t *testing.T) {
	paths := testPaths(t)
	rec := &recorder{failAt: "config", writeTo: paths.TestsStaging}
	p := testPipeline(rec, paths)

	err := p.Run(context.Background())
	require.Error(t, err)

	assert.NoDirExists(t, paths.TestsStaging)
	assert.NoDirExists(t, paths.RunnerStaging)
	assert.NoFileExists(t, paths.DBCredentials)
}

func TestCleanupIsIdempotent(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.MkdirAll(filepath.Join(paths.TestsStaging, "includes"), 0o755))
	require.NoError(t, os.WriteFile(paths.ConfigCopy, []byte("<?php"), 0o644))

	require.NoError(t, paths.Cleanup())
	require.NoError(t, paths.Cleanup())

	assert.NoDirExists(t, paths.TestsStaging)
	assert.NoFileExists(t, paths.ConfigCopy)
}

func TestResolveRunnerMajor(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    int
		wantErr bool
	}{
		{name: "explicit major", version: "6", want: 6},
		{name: "latest release", version: "latest", want: 9},
		{name: "not a number", version: "six", wantErr: true},
		{name: "zero", version: "0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := testPipeline(rec, testPaths(t))
			p.Options.RunnerVersion = tt.version

			got, err := p.resolveRunnerMajor(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFrameworkVersionPassesLiteralsThrough(t *testing.T) {
	rec := &recorder{}
	p := testPipeline(rec, testPaths(t))

	for _, version := range []string{"trunk", "nightly", "5.9"} {
		p.Options.FrameworkVersion = version
		got, err := p.resolveFrameworkVersion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, version, got)
	}
	assert.Empty(t, rec.calls, "literal versions should not hit the metadata endpoint")
}

func TestResolveFrameworkVersionLatestFailureIsFatal(t *testing.T) {
	rec := &recorder{failAt: "resolve"}
	p := testPipeline(rec, testPaths(t))

	_, err := p.resolveFrameworkVersion(context.Background())
	require.Error(t, err)
}

// svnStub serves the test-library exports from canned content: two
// directories plus the sample configuration template.
type svnStub struct{}

func (svnStub) Probe(ctx context.Context, remote string) error { return nil }

func (svnStub) Export(ctx context.Context, remote, dest string) error {
	if strings.HasSuffix(remote, "/") {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dest, "bootstrap.php"), []byte("<?php"), 0o644)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	template := `<?php
define( 'ABSPATH', dirname( __FILE__ ) . '/src/' );
define( 'DB_NAME', 'youremptytestdbnamehere' );
define( 'DB_USER', 'yourusernamehere' );
define( 'DB_PASSWORD', 'yourpasswordhere' );
`
	return os.WriteFile(dest, []byte(template), 0o644)
}

// countingDB records Create calls.
type countingDB struct {
	exists  bool
	creates int
}

func (c *countingDB) Exists(ctx context.Context, name string) (bool, error) {
	return c.exists, nil
}

func (c *countingDB) Create(ctx context.Context, name string) error {
	c.creates++
	c.exists = true
	return nil
}

func writeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// The full pipeline against a canned release archive and stubbed svn and
// database clients: afterwards the core tree, the test library, and a
// placeholder-free configuration exist, and staging is gone.
func TestRunEndToEndTaggedRelease(t *testing.T) {
	archive := writeTarGz(t, map[string]string{
		"wordpress/index.php":       "<?php // front controller",
		"wordpress/wp-settings.php": "<?php // bootstrap",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	paths := testPaths(t)
	settings := config.Defaults()
	settings.CoreDir = filepath.Join(t.TempDir(), "wordpress")
	settings.TestsDir = filepath.Join(t.TempDir(), "wordpress-tests-lib")

	rec := &recorder{}
	db := &countingDB{}
	p := testPipeline(rec, paths)
	p.Options = Options{RunnerVersion: "7", FrameworkVersion: "5.0", TestLibVersion: "5.0"}
	p.Settings = settings
	p.Core = &core.Service{
		Fetcher:    fetch.NewHTTPFetcher(),
		Syncer:     clients.FSSyncer{},
		StagingDir: paths.CoreStaging,
		ReleaseURL: func(version string) string {
			return srv.URL + "/wordpress-" + version + ".tar.gz"
		},
	}
	p.TestLib = &testlib.Service{
		Exporter:   svnStub{},
		Syncer:     clients.FSSyncer{},
		StagingDir: paths.TestsStaging,
		BaseURL:    "svn://stub",
	}
	p.Config = &wpconfig.Generator{
		OS:              platform.FamilyLinux,
		Settings:        settings,
		StagingCopyPath: paths.ConfigCopy,
	}
	p.DB = &database.Provisioner{Client: db, DB: settings.DB}

	require.NoError(t, p.Run(context.Background()))

	assert.FileExists(t, filepath.Join(settings.CoreDir, "index.php"))
	assert.DirExists(t, filepath.Join(settings.TestsDir, "includes"))
	assert.DirExists(t, filepath.Join(settings.TestsDir, "data"))
	assert.Equal(t, 1, db.creates)

	generated, err := os.ReadFile(filepath.Join(settings.TestsDir, wpconfig.ConfigName))
	require.NoError(t, err)
	for _, placeholder := range []string{
		"youremptytestdbnamehere", "yourusernamehere", "yourpasswordhere", "dirname( __FILE__ )",
	} {
		assert.NotContains(t, string(generated), placeholder)
	}
	assert.Contains(t, string(generated), settings.CoreDir+"/")
	assert.Contains(t, string(generated), settings.DB.Name)

	assert.NoDirExists(t, paths.CoreStaging)
	assert.NoDirExists(t, paths.TestsStaging)
}
