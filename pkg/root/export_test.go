package root

import "testing"

// OverrideFilesystemRootForTest bounds ascent to a synthetic directory so
// tests can exercise RootNotFound deterministically.
func OverrideFilesystemRootForTest(t *testing.T, boundary string) {
	t.Helper()
	prev := filesystemBoundary
	filesystemBoundary = boundary
	t.Cleanup(func() { filesystemBoundary = prev })
}
