package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/parser"
)

// emptyModule is the smallest valid wasm binary: magic and version, no
// sections. It compiles cleanly but exports nothing.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestTransformWithoutPluginsIsIdentity(t *testing.T) {
	ctx := context.Background()
	host := NewHost(ctx)
	defer host.Close(ctx)

	tree, errs := parser.Parse("test.beancount", []byte(`
2024-01-01 open Assets:Cash
`))
	assert.False(t, errs.HasErrors())

	out, warnings := host.Transform(ctx, tree.Directives)
	assert.Equal(t, 0, len(warnings))
	assert.Equal(t, len(tree.Directives), len(out))
}

func TestLoadRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	host := NewHost(ctx)
	defer host.Close(ctx)

	path := writeTemp(t, "bad.wasm", []byte("not a wasm module"))
	_, err := host.Load(ctx, "bad", path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingExports(t *testing.T) {
	ctx := context.Background()
	host := NewHost(ctx)
	defer host.Close(ctx)

	path := writeTemp(t, "empty.wasm", emptyModule)
	_, err := host.Load(ctx, "empty", path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "export")
}

func TestLoadMissingFile(t *testing.T) {
	ctx := context.Background()
	host := NewHost(ctx)
	defer host.Close(ctx)

	_, err := host.Load(ctx, "ghost", filepath.Join(t.TempDir(), "missing.wasm"))
	assert.Error(t, err)
}

func TestFailedLoadLeavesChainEmpty(t *testing.T) {
	ctx := context.Background()
	host := NewHost(ctx)
	defer host.Close(ctx)

	path := writeTemp(t, "empty.wasm", emptyModule)
	_, err := host.Load(ctx, "empty", path)
	assert.Error(t, err)

	var directives ast.Directives
	out, warnings := host.Transform(ctx, directives)
	assert.Equal(t, 0, len(warnings))
	assert.Equal(t, 0, len(out))
}
