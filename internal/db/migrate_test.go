package db

import (
	"testing"
	"testing/fstest"

	"github.com/memohai/switchboard/internal/config"
)

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "switchboard",
		Password: "secret",
		Database: "switchboard",
		SSLMode:  "disable",
	}
}

func TestRunMigrateRejectsBadInput(t *testing.T) {
	migrations := fstest.MapFS{"0001_init.up.sql": {Data: []byte("SELECT 1;")}}
	tests := []struct {
		name    string
		command string
		args    []string
		fsys    fstest.MapFS
	}{
		{"unknown command", "sideways", nil, migrations},
		{"force without version", MigrateForce, nil, migrations},
		{"nil source", MigrateUp, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.fsys == nil {
				err = RunMigrate(nil, testPostgresConfig(), nil, tt.command, tt.args)
			} else {
				err = RunMigrate(nil, testPostgresConfig(), tt.fsys, tt.command, tt.args)
			}
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
