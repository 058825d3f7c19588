package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectops/internal/config"
	"projectops/internal/engine/auth"
	"projectops/internal/repo"
)

const testConfig = `parameters:
  OVERLOAD_PROJECTS_THRESHOLD: "6"
roles:
  - Developer
  - QA
log:
  level: error
`

func paramValue(t *testing.T, a *App, key string) string {
	t.Helper()
	items, err := a.Engine.ListParameters(context.Background())
	require.NoError(t, err)
	for _, p := range items {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

func TestOpenAndSeedAreIdempotent(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(testConfig), 0o644))
	ctx := context.Background()

	a, err := Open(ctx, Options{Workspace: ws})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Engine.Blobs)
	require.NotNil(t, a.Metrics)

	require.NoError(t, a.Seed(ctx))
	roles, err := a.Engine.ListRoles(ctx, repo.RoleFilter{})
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.Equal(t, "6", paramValue(t, a, "OVERLOAD_PROJECTS_THRESHOLD"))
	assert.Equal(t, "0.10", paramValue(t, a, "DEVIATION_AMBER"))

	_, err = a.Engine.SetParameter(ctx, auth.Principal{}, "OVERLOAD_PROJECTS_THRESHOLD", "7")
	require.NoError(t, err)
	require.NoError(t, a.Seed(ctx))
	roles, err = a.Engine.ListRoles(ctx, repo.RoleFilter{})
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.Equal(t, "7", paramValue(t, a, "OVERLOAD_PROJECTS_THRESHOLD"))
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("parameters:\n  DEVIATION_RED: high\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: ws})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestLoadEnvKeepsProcessEnvironment(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, LoadEnv(ws))

	env := "PROJECTOPS_TEST_KEPT=from-file\nPROJECTOPS_TEST_ADDED=added\n"
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".env"), []byte(env), 0o600))
	t.Setenv("PROJECTOPS_TEST_KEPT", "from-process")
	t.Cleanup(func() { os.Unsetenv("PROJECTOPS_TEST_ADDED") })

	require.NoError(t, LoadEnv(ws))
	assert.Equal(t, "from-process", os.Getenv("PROJECTOPS_TEST_KEPT"))
	assert.Equal(t, "added", os.Getenv("PROJECTOPS_TEST_ADDED"))
}

func TestCloseNilApp(t *testing.T) {
	var a *App
	assert.NoError(t, a.Close())
}
