// Package wpconfig generates the test configuration file from the sample
// template fetched with the test-support library, by literal placeholder
// substitution. The substitutions are order-independent and idempotent: a
// file already free of the placeholders passes through unchanged.
package wpconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wptestenv/wptestenv/pkg/config"
	"github.com/wptestenv/wptestenv/pkg/log"
	"github.com/wptestenv/wptestenv/pkg/platform"
)

// ConfigName is the generated configuration file name.
const ConfigName = "wp-tests-config.php"

// LocalSampleName is the hosting layout's own sample configuration; when
// present in the public directory it gets the credential substitutions.
const LocalSampleName = "local-config-sample.php"

// LocalConfigName is the rewritten local-hosting configuration.
const LocalConfigName = "local-config.php"

// The template's well-known placeholder tokens.
const (
	corePathToken = `dirname( __FILE__ ) . '/src/'`
	dbNameToken   = "youremptytestdbnamehere"
	dbUserToken   = "yourusernamehere"
	dbPassToken   = "yourpasswordhere"
)

// Substitute applies all four substitutions: the relative source-dir
// expression becomes the absolute core directory, and the three credential
// placeholders become the configured values.
func Substitute(content, coreDir string, db config.Database) string {
	content = strings.ReplaceAll(content, corePathToken,
		fmt.Sprintf("'%s/'", strings.TrimRight(coreDir, "/")))
	return SubstituteCredentials(content, db)
}

// SubstituteCredentials applies only the three credential substitutions.
func SubstituteCredentials(content string, db config.Database) string {
	content = strings.ReplaceAll(content, dbNameToken, db.Name)
	content = strings.ReplaceAll(content, dbUserToken, db.User)
	content = strings.ReplaceAll(content, dbPassToken, db.Password)
	return content
}

// Generator writes the configuration file and its duplicates.
type Generator struct {
	OS       platform.OSFamily
	Settings config.Settings

	// PublicDir is the resolved web root; empty skips the public-dir
	// side effects.
	PublicDir string

	// StagingCopyPath is the fixed temp path that receives a duplicate of
	// the finished file; cleanup removes it.
	StagingCopyPath string
}

// Generate derives the configuration from the fetched sample template and
// writes every copy the workflow promises.
func (g *Generator) Generate() error {
	sample := filepath.Join(g.Settings.TestsDir, "wp-tests-config-sample.php")
	template, err := os.ReadFile(sample)
	if err != nil {
		return fmt.Errorf("read config template: %w", err)
	}

	finished := Substitute(string(template), g.Settings.CoreDir, g.Settings.DB)
	target := filepath.Join(g.Settings.TestsDir, ConfigName)

	// The macOS-like branch keeps a backup beside the rewritten file.
	if g.OS == platform.FamilyDarwin {
		if err := os.WriteFile(target+".bak", template, 0o644); err != nil {
			return fmt.Errorf("write config backup: %w", err)
		}
	}
	if err := os.WriteFile(target, []byte(finished), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	log.Info("generated test configuration", "path", target)

	if g.StagingCopyPath != "" {
		if err := os.WriteFile(g.StagingCopyPath, []byte(finished), 0o644); err != nil {
			return fmt.Errorf("write config staging copy: %w", err)
		}
	}

	if g.PublicDir == "" {
		return nil
	}
	return g.publicDirSideEffects(finished)
}

// publicDirSideEffects rewrites the local-hosting sample when present and
// seeds the public directory with the finished configuration when absent.
func (g *Generator) publicDirSideEffects(finished string) error {
	localSample := filepath.Join(g.PublicDir, LocalSampleName)
	if data, err := os.ReadFile(localSample); err == nil {
		rewritten := SubstituteCredentials(string(data), g.Settings.DB)
		localTarget := filepath.Join(g.PublicDir, LocalConfigName)
		if err := os.WriteFile(localTarget, []byte(rewritten), 0o644); err != nil {
			return fmt.Errorf("write local config: %w", err)
		}
		log.Info("rewrote local hosting configuration", "path", localTarget)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read local config sample: %w", err)
	}

	publicConfig := filepath.Join(g.PublicDir, ConfigName)
	if _, err := os.Stat(publicConfig); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(publicConfig, []byte(finished), 0o644); err != nil {
			return fmt.Errorf("copy config to public dir: %w", err)
		}
		log.Info("copied test configuration to public dir", "path", publicConfig)
	}
	return nil
}
