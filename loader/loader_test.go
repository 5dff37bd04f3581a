package loader

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/parser"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	mainFile := writeFile(t, dir, "main.beancount", `
2024-01-01 open Assets:Checking USD
2024-01-02 * "Test"
  Assets:Checking  100.00 USD
  Equity:Opening-Balances
`)

	ldr := New()
	tree, errs, err := ldr.Load(context.Background(), mainFile)
	assert.NoError(t, err)
	assert.False(t, errs.HasErrors())
	assert.Equal(t, 2, len(tree.Directives))
}

func TestLoadFollowsIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "accounts.beancount", `
2024-01-01 open Assets:Checking
2024-01-01 open Expenses:Food
`)
	mainFile := writeFile(t, dir, "main.beancount", `
include "accounts.beancount"

2024-01-02 * "Lunch"
  Expenses:Food    12.50 USD
  Assets:Checking
`)

	ldr := New(WithFollowIncludes())
	tree, errs, err := ldr.Load(context.Background(), mainFile)
	assert.NoError(t, err)
	assert.False(t, errs.HasErrors())
	assert.Equal(t, 3, len(tree.Directives))
}

func TestLoadIgnoresIncludeCycles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.beancount", `
include "b.beancount"
2024-01-01 open Assets:A
`)
	writeFile(t, dir, "b.beancount", `
include "a.beancount"
2024-01-01 open Assets:B
`)

	ldr := New(WithFollowIncludes())
	tree, _, err := ldr.Load(context.Background(), filepath.Join(dir, "a.beancount"))
	assert.NoError(t, err)
	assert.Equal(t, 2, len(tree.Directives))
}

func TestLoadMissingFileFails(t *testing.T) {
	ldr := New()
	_, _, err := ldr.Load(context.Background(), filepath.Join(t.TempDir(), "missing.beancount"))
	assert.Error(t, err)
}

func TestLoadMissingIncludeFails(t *testing.T) {
	dir := t.TempDir()
	mainFile := writeFile(t, dir, "main.beancount", `
include "missing.beancount"
`)
	ldr := New(WithFollowIncludes())
	_, _, err := ldr.Load(context.Background(), mainFile)
	assert.Error(t, err)
}

const cacheRoundTripSource = `
option "operating_currency" "USD"

2024-01-01 open Assets:Broker "FIFO"

2024-01-15 * "Cafe" "Coffee" #trip ^receipt
  memo: "espresso"
  Expenses:Food   5.00 USD
  Assets:Cash

2024-02-01 * "Buy"
  Assets:Broker  10 AAPL {100.00 USD, 2024-02-01, "lot-a"} @ 101.00 USD
  Assets:Cash

2024-03-01 balance Assets:Cash  -1015.00 USD
2024-03-05 price AAPL  105.00 USD
2024-03-06 event "location" "NYC"
2024-03-07 note Assets:Cash "checked"
2024-03-08 document Assets:Cash "statement.pdf"
2024-03-09 query "food" "SELECT account WHERE account ~ 'Food'"
2024-03-10 custom "budget" "monthly" 500.00 USD TRUE
`

// TestCacheRoundTrip exercises the structural round-trip property: a
// stream restored through the cache's serialize/deserialize path equals
// the freshly parsed one.
func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mainFile := writeFile(t, dir, "main.beancount", cacheRoundTripSource)

	tree, errs := parser.Parse(mainFile, []byte(cacheRoundTripSource))
	assert.False(t, errs.HasErrors(), "parse errors: %v", errs)

	sf, err := statSource(mainFile)
	assert.NoError(t, err)
	cache := NewCache(mainFile + ".cache")
	assert.NoError(t, cache.Store(tree, []SourceFile{sf}))

	restored, ok := NewCache(mainFile + ".cache").Load()
	assert.True(t, ok)

	assert.Equal(t, len(tree.Directives), len(restored.Directives))
	for i := range tree.Directives {
		orig, back := tree.Directives[i], restored.Directives[i]
		assert.Equal(t, orig.Kind(), back.Kind())
		assert.Equal(t, orig.GetDate().String(), back.GetDate().String())
		assert.Equal(t, orig.Position(), back.Position())
		assert.Equal(t, len(orig.Metadata()), len(back.Metadata()))
	}

	origTxn := findTxn(t, tree.Directives, "Coffee")
	backTxn := findTxn(t, restored.Directives, "Coffee")
	assert.Equal(t, origTxn.Payee, backTxn.Payee)
	assert.Equal(t, origTxn.Tags, backTxn.Tags)
	assert.Equal(t, origTxn.Links, backTxn.Links)
	assert.Equal(t, len(origTxn.Postings), len(backTxn.Postings))
	assert.True(t, origTxn.Postings[0].Units.Number.Equal(backTxn.Postings[0].Units.Number))

	origBuy := findTxn(t, tree.Directives, "Buy").Postings[0]
	backBuy := findTxn(t, restored.Directives, "Buy").Postings[0]
	assert.True(t, origBuy.CostSpec.NumberPer.Equal(*backBuy.CostSpec.NumberPer))
	assert.Equal(t, origBuy.CostSpec.Label, backBuy.CostSpec.Label)
	assert.Equal(t, origBuy.CostSpec.Date.String(), backBuy.CostSpec.Date.String())

	assert.Equal(t, len(tree.Options), len(restored.Options))
}

func findTxn(t *testing.T, ds ast.Directives, narration string) *ast.Transaction {
	t.Helper()
	for _, d := range ds {
		if txn, ok := d.(*ast.Transaction); ok && txn.Narration == narration {
			return txn
		}
	}
	t.Fatalf("no transaction with narration %q", narration)
	return nil
}

func TestCacheCorruptionIsSilentMiss(t *testing.T) {
	dir := t.TempDir()
	mainFile := writeFile(t, dir, "main.beancount", "2024-01-01 open Assets:Cash\n")

	tree, _ := parser.Parse(mainFile, []byte("2024-01-01 open Assets:Cash\n"))
	sf, err := statSource(mainFile)
	assert.NoError(t, err)
	cachePath := mainFile + ".cache"
	assert.NoError(t, NewCache(cachePath).Store(tree, []SourceFile{sf}))

	// Flip the version field; the entry must be ignored, not fail.
	raw, err := os.ReadFile(cachePath)
	assert.NoError(t, err)
	binary.LittleEndian.PutUint32(raw[8:12], 9999)
	assert.NoError(t, os.WriteFile(cachePath, raw, 0o644))

	_, ok := NewCache(cachePath).Load()
	assert.False(t, ok)
}

func TestCacheStaleAfterSourceEdit(t *testing.T) {
	dir := t.TempDir()
	mainFile := writeFile(t, dir, "main.beancount", "2024-01-01 open Assets:Cash\n")

	tree, _ := parser.Parse(mainFile, []byte("2024-01-01 open Assets:Cash\n"))
	sf, err := statSource(mainFile)
	assert.NoError(t, err)
	cache := NewCache(mainFile + ".cache")
	assert.NoError(t, cache.Store(tree, []SourceFile{sf}))

	// A size change guarantees the (path, mtime, size) tuple differs.
	writeFile(t, dir, "main.beancount", "2024-01-01 open Assets:Cash USD\n")
	_, ok := cache.Load()
	assert.False(t, ok)
}

func TestCacheHitThroughLoader(t *testing.T) {
	dir := t.TempDir()
	mainFile := writeFile(t, dir, "main.beancount", `
2024-01-01 open Assets:Cash
`)

	cache := NewCache(mainFile + ".cache")
	ldr := New(WithCache(cache))

	first, _, err := ldr.Load(context.Background(), mainFile)
	assert.NoError(t, err)
	second, _, err := ldr.Load(context.Background(), mainFile)
	assert.NoError(t, err)
	assert.Equal(t, len(first.Directives), len(second.Directives))
}

// TestCacheCoversIncludedFiles pins the whole-build key: the entry is
// keyed over every transitively-reached file, so editing an included
// file invalidates a cache written for the root.
func TestCacheCoversIncludedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "accounts.beancount", `
2024-01-01 open Assets:Checking
`)
	mainFile := writeFile(t, dir, "main.beancount", `
include "accounts.beancount"
`)

	cache := NewCache(mainFile + ".cache")
	ldr := New(WithFollowIncludes(), WithCache(cache))

	first, _, err := ldr.Load(context.Background(), mainFile)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(first.Directives))

	// Cached reload returns the same merged build.
	second, _, err := ldr.Load(context.Background(), mainFile)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(second.Directives))

	// Growing the included file breaks the hash over its tuple.
	writeFile(t, dir, "accounts.beancount", `
2024-01-01 open Assets:Checking
2024-01-01 open Expenses:Food
`)
	_, ok := cache.Load()
	assert.False(t, ok)

	third, _, err := ldr.Load(context.Background(), mainFile)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(third.Directives))
}

// TestMarshalDirectivesRoundTrip covers the plugin host's wire path over
// the same schema the cache payload uses.
func TestMarshalDirectivesRoundTrip(t *testing.T) {
	tree, errs := parser.Parse("main.beancount", []byte(cacheRoundTripSource))
	assert.False(t, errs.HasErrors())

	data, err := MarshalDirectives(tree.Directives)
	assert.NoError(t, err)
	back, err := UnmarshalDirectives(data)
	assert.NoError(t, err)

	assert.Equal(t, len(tree.Directives), len(back))
	for i := range tree.Directives {
		assert.Equal(t, tree.Directives[i].Kind(), back[i].Kind())
	}
}

// TestReinternFixpoint exercises the re-interning property: after a load,
// equal account texts resolve to one canonical pooled string, including
// strings that arrived from different files.
func TestReinternFixpoint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "other.beancount", `
2024-01-02 * "Two"
  Expenses:Food    1.00 USD
  Assets:Cash     -1.00 USD
`)
	mainFile := writeFile(t, dir, "main.beancount", `
include "other.beancount"
2024-01-01 open Assets:Cash
2024-01-01 open Expenses:Food

2024-01-03 * "One"
  Expenses:Food    2.00 USD
  Assets:Cash     -2.00 USD
`)

	ldr := New(WithFollowIncludes())
	tree, _, err := ldr.Load(context.Background(), mainFile)
	assert.NoError(t, err)

	interner := getSharedInterner()
	var accounts []ast.Account
	for _, d := range tree.Directives {
		switch v := d.(type) {
		case *ast.Open:
			accounts = append(accounts, v.Account)
		case *ast.Transaction:
			for _, p := range v.Postings {
				accounts = append(accounts, p.Account)
			}
		}
	}
	assert.True(t, len(accounts) >= 6)
	for _, account := range accounts {
		// Every account string in the loaded tree is the pool's canonical
		// instance, so a fresh Intern of the same text returns it as-is.
		assert.Equal(t, interner.Intern(string(account)), string(account))
	}
}
