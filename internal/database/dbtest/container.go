// Package dbtest starts a throwaway Postgres for integration tests.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stwalsh4118/peritaje/internal/config"
)

// EnvIntegration enables container-backed tests when set to "1".
const EnvIntegration = "PERITAJE_INTEGRATION"

const (
	image    = "postgres:16-alpine"
	user     = "peritaje"
	password = "peritaje"
	dbName   = "peritaje_test"
)

// Postgres starts a Postgres container and returns a config pointing at it.
// The test is skipped unless PERITAJE_INTEGRATION=1. The container is
// terminated when the test finishes.
func Postgres(t *testing.T) config.DatabaseConfig {
	t.Helper()

	if os.Getenv(EnvIntegration) != "1" {
		t.Skipf("set %s=1 to run container-backed tests", EnvIntegration)
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     user,
				"POSTGRES_PASSWORD": password,
				"POSTGRES_DB":       dbName,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to resolve container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("Failed to resolve mapped port: %v", err)
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port.Port(),
		Name:     dbName,
		User:     user,
		Password: password,
		PoolMin:  1,
		PoolMax:  5,
	}
}
