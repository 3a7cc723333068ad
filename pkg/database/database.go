// Package database provisions the test database on the local MySQL
// instance. Credentials go through a temporary defaults file so the client
// calls never prompt; cleanup removes that file after every run.
package database

import (
	"context"
	"fmt"
	"os"

	"github.com/wptestenv/wptestenv/pkg/clients"
	"github.com/wptestenv/wptestenv/pkg/config"
	"github.com/wptestenv/wptestenv/pkg/log"
)

// Client probes for and creates databases.
type Client interface {
	// Exists reports whether the named database is reachable.
	Exists(ctx context.Context, name string) (bool, error)

	// Create creates the named database.
	Create(ctx context.Context, name string) error
}

// MySQL drives the mysql client tools through a defaults file.
type MySQL struct {
	Runner clients.Runner

	// DefaultsFile is the temporary credentials file passed to every
	// client call.
	DefaultsFile string
}

// NewMySQL returns a Client using the given defaults file.
func NewMySQL(runner clients.Runner, defaultsFile string) *MySQL {
	return &MySQL{Runner: runner, DefaultsFile: defaultsFile}
}

// WriteDefaultsFile writes the client credentials for db to path with
// owner-only permissions.
func WriteDefaultsFile(path string, db config.Database) error {
	content := fmt.Sprintf("[client]\nuser=%s\npassword=%s\nhost=%s\n", db.User, db.Password, db.Host)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write mysql defaults file: %w", err)
	}
	return nil
}

// Exists probes with mysqlshow first and falls back to a USE statement;
// either succeeding means the database is there.
func (m *MySQL) Exists(ctx context.Context, name string) (bool, error) {
	if _, code, _ := m.Runner.Run(ctx, "mysqlshow", m.defaultsArg(), name); code == 0 {
		return true, nil
	}
	_, code, _ := m.Runner.Run(ctx, "mysql", m.defaultsArg(), "-e", fmt.Sprintf("USE `%s`", name))
	return code == 0, nil
}

// Create creates the database with mysqladmin.
func (m *MySQL) Create(ctx context.Context, name string) error {
	out, _, err := m.Runner.Run(ctx, "mysqladmin", m.defaultsArg(), "create", name)
	if err != nil {
		return fmt.Errorf("create database %s: %w: %s", name, err, out)
	}
	return nil
}

func (m *MySQL) defaultsArg() string {
	return "--defaults-extra-file=" + m.DefaultsFile
}

// Provisioner creates the test database when absent.
type Provisioner struct {
	Client Client
	DB     config.Database

	// DefaultsFile is written before any client call and removed by
	// cleanup.
	DefaultsFile string
}

// Ensure writes the credentials file, probes for the database, and creates
// it only when absent. Running it against an existing database is a no-op.
func (p *Provisioner) Ensure(ctx context.Context) error {
	if p.DefaultsFile != "" {
		if err := WriteDefaultsFile(p.DefaultsFile, p.DB); err != nil {
			return err
		}
	}

	exists, err := p.Client.Exists(ctx, p.DB.Name)
	if err != nil {
		return fmt.Errorf("probe database %s: %w", p.DB.Name, err)
	}
	if exists {
		log.Info("test database already exists", "name", p.DB.Name)
		return nil
	}

	log.Info("creating test database", "name", p.DB.Name)
	return p.Client.Create(ctx, p.DB.Name)
}
