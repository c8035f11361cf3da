package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldvinh/stackup/internal/core/stack"
)

// =============================================================================
// Flag Parsing Tests
// =============================================================================

func TestEnvFlags_Set(t *testing.T) {
	vars := envFlags{}

	require.NoError(t, vars.Set("DB_USER=agent"))
	require.NoError(t, vars.Set("DB_PASSWORD=s=cr=t"))
	assert.Equal(t, "agent", vars["DB_USER"])
	assert.Equal(t, "s=cr=t", vars["DB_PASSWORD"])

	assert.Error(t, vars.Set("no-equals-sign"))
	assert.Error(t, vars.Set("=value-without-key"))
}

// =============================================================================
// Descriptor Loading Tests
// =============================================================================

func TestLoadDescriptor(t *testing.T) {
	content := "services:\n  db:\n    image: postgres:16\n"
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	spec, descriptor, err := loadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, content, descriptor)
	require.Len(t, spec.Services, 1)
	assert.Equal(t, "db", spec.Services[0].Name)
}

func TestLoadDescriptor_MissingFile(t *testing.T) {
	_, _, err := loadDescriptor(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadDescriptor_ResolvesBuildContexts(t *testing.T) {
	content := "services:\n  app:\n    build:\n      context: ./app-src\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	spec, _, err := loadDescriptor(path)
	require.NoError(t, err)
	require.Len(t, spec.Services, 1)
	require.NotNil(t, spec.Services[0].Build)

	// Relative contexts anchor at the descriptor's directory, so the
	// build tars the right files regardless of the caller's cwd.
	assert.Equal(t, filepath.Join(dir, "app-src"), spec.Services[0].Build.Context)
}

func TestResolveBuildContexts_AbsoluteUntouched(t *testing.T) {
	spec, err := stack.Parse("services:\n  app:\n    build:\n      context: /opt/app-src\n")
	require.NoError(t, err)

	resolveBuildContexts(spec, "/somewhere/else")
	assert.Equal(t, "/opt/app-src", spec.Services[0].Build.Context)
}

func TestCollectVariables(t *testing.T) {
	descriptor := "services:\n  db:\n    image: postgres:16\n    environment:\n      POSTGRES_USER: ${DB_USER}\n      POSTGRES_PASSWORD: ${DB_PASSWORD}\n"

	t.Setenv("DB_USER", "from-env")
	os.Unsetenv("DB_PASSWORD")

	variables := collectVariables(descriptor, envFlags{"DB_PASSWORD": "from-flag"})
	assert.Equal(t, "from-env", variables["DB_USER"])
	assert.Equal(t, "from-flag", variables["DB_PASSWORD"])

	// Explicit flags win over the environment.
	variables = collectVariables(descriptor, envFlags{"DB_USER": "override"})
	assert.Equal(t, "override", variables["DB_USER"])
}

// =============================================================================
// Validate Command Tests
// =============================================================================

func TestValidateFile_Valid(t *testing.T) {
	content := "services:\n  db:\n    image: postgres:16\n"
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	assert.Equal(t, ExitSuccess, validateFile(path))
}

func TestValidateFile_Invalid(t *testing.T) {
	// Service with neither image nor build context.
	content := "services:\n  db:\n    restart: always\n"
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	assert.Equal(t, ExitValidationError, validateFile(path))
}

func TestValidateFile_Missing(t *testing.T) {
	assert.Equal(t, ExitValidationError, validateFile(filepath.Join(t.TempDir(), "missing.yaml")))
}
