package testsupport

import (
	"testing"

	"padbridge/internal/config"
	"padbridge/internal/namedobj"
)

// MustOpenNamespace opens the named-object namespace in cfg's runtime dir.
func MustOpenNamespace(t testing.TB, cfg *config.Config) *namedobj.Namespace {
	t.Helper()

	ns, err := namedobj.OpenNamespace(cfg.Paths.RuntimeDir)
	if err != nil {
		t.Fatalf("namedobj.OpenNamespace: %v", err)
	}
	return ns
}
