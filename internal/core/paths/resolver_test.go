package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// makeDirs creates the given relative directories under a temp root.
func makeDirs(t *testing.T, rels ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, rel := range rels {
		require.NoError(t, os.MkdirAll(filepath.Join(root, rel), 0o755))
	}
	return root
}

// =============================================================================
// Resolution Tests
// =============================================================================

func TestResolve_PreservesFirstSeenOrder(t *testing.T) {
	root := makeDirs(t, "lib/llm", "deploy/sdk/src", "lib/runtime")

	resolved, err := Resolve(root, []string{"deploy/sdk/src", "lib/llm", "lib/runtime"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "deploy/sdk/src"),
		filepath.Join(root, "lib/llm"),
		filepath.Join(root, "lib/runtime"),
	}, resolved.Paths)
	assert.Empty(t, resolved.Skipped)
}

func TestResolve_DeduplicatesOverlappingCandidates(t *testing.T) {
	root := makeDirs(t, "lib/llm")

	// The same directory referenced three ways
	resolved, err := Resolve(root, []string{
		"lib/llm",
		"lib/llm",
		"lib/../lib/llm",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(root, "lib/llm")}, resolved.Paths)
}

func TestResolve_SkipsMissingEntries(t *testing.T) {
	root := makeDirs(t, "deploy/sdk/src")

	resolved, err := Resolve(root, []string{
		"deploy/sdk/src",
		"dynamo/deploy/sdk/src", // other layout, absent here
		"lib/bindings/python",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(root, "deploy/sdk/src")}, resolved.Paths)
	assert.Equal(t, []string{"dynamo/deploy/sdk/src", "lib/bindings/python"}, resolved.Skipped)
}

func TestResolve_SkipsFilesThatAreNotDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "setup.py"), []byte("#"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))

	resolved, err := Resolve(root, []string{"setup.py", "lib"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(root, "lib")}, resolved.Paths)
	assert.Equal(t, []string{"setup.py"}, resolved.Skipped)
}

func TestResolve_AllMissingIsAnError(t *testing.T) {
	root := t.TempDir()

	resolved, err := Resolve(root, []string{"lib/llm", "deploy/sdk/src"}, nil)
	require.Error(t, err)
	assert.Nil(t, resolved)
	assert.True(t, errors.Is(err, ErrNoValidPaths))

	var resolveErr *ResolveError
	require.True(t, errors.As(err, &resolveErr))
	assert.Contains(t, resolveErr.Error(), "2 candidate")
}

func TestResolve_MissingRoot(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope"), []string{"lib"}, nil)
	assert.True(t, errors.Is(err, ErrRootNotFound))
}

func TestResolve_RootIsAFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	_, err := Resolve(root, []string{"lib"}, nil)
	assert.True(t, errors.Is(err, ErrRootNotDir))
}

// =============================================================================
// Join Tests
// =============================================================================

func TestJoin_UsesPlatformSeparator(t *testing.T) {
	root := makeDirs(t, "a", "b")

	resolved, err := Resolve(root, []string{"a", "b"}, nil)
	require.NoError(t, err)

	want := filepath.Join(root, "a") + string(os.PathListSeparator) + filepath.Join(root, "b")
	assert.Equal(t, want, resolved.Join())
}
