package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("STORE_DIR", dir)
	t.Setenv("EXPORT_SINK", "file")
	t.Setenv("EXPORT_PATH", filepath.Join(dir, "marked_phones.txt"))
	t.Setenv("REDEEM_BATCH_SIZE", "2")
	return dir
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWhitelistAndPool(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "alice\nbob\n\nalice\n", "whitelist", "import", "-")
	require.NoError(t, err)
	assert.Equal(t, "imported 2 identities\n", out)

	out, err = run(t, "", "whitelist", "list")
	require.NoError(t, err)
	assert.Equal(t, "alice\nbob\n", out)

	phones := filepath.Join(dir, "phones.txt")
	require.NoError(t, os.WriteFile(phones, []byte("100\n101\n102\n101\n"), 0o644))

	out, err = run(t, "", "pool", "build", phones)
	require.NoError(t, err)
	assert.Contains(t, out, "built 2 batches from 3 numbers")
	assert.Contains(t, out, "1 duplicates")

	out, err = run(t, "", "pool", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "0\t2 numbers")
	assert.Contains(t, out, "1\t1 numbers")
}

func TestMarkExportBlacklist(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "", "mark", "100")
	require.NoError(t, err)
	assert.Equal(t, "100 is now claimed\n", out)

	out, err = run(t, "", "export")
	require.NoError(t, err)
	assert.Contains(t, out, "exported 1 numbers")

	data, err := os.ReadFile(filepath.Join(dir, "marked_phones.txt"))
	require.NoError(t, err)
	assert.Equal(t, "100\n", string(data))

	out, err = run(t, "", "blacklist")
	require.NoError(t, err)
	assert.Equal(t, "1 blacklisted\n100\n", out)

	out, err = run(t, "", "mark", "100")
	require.NoError(t, err)
	assert.Equal(t, "100 is now unclaimed\n", out)

	out, err = run(t, "", "blacklist")
	require.NoError(t, err)
	assert.Equal(t, "1 blacklisted\n100\n", out)
}

func TestRootRegistersSubcommands(t *testing.T) {
	var names []string
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"whitelist", "pool", "mark", "export", "blacklist", "uploads", "reset", "status"} {
		assert.Contains(t, names, want)
	}
}

func TestIdentityCommands(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "", "status", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice has not redeemed\n", out)

	out, err = run(t, "", "reset", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice had no record\n", out)

	_, err = run(t, "", "uploads", "--date", "yesterday")
	assert.Error(t, err)

	out, err = run(t, "", "uploads")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMissingInputFile(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "", "pool", "build", "/does/not/exist")
	assert.Error(t, err)
}
