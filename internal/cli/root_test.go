package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "coordsync", cmd.Use)
	assert.Contains(t, cmd.Long, "coordinator")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{{"run"}, {"changes"}, {"records"}, {"records", "add"}, {"records", "list"}, {"records", "edit"}, {"records", "rm"}}

	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"records", "list", "--format", "xml", "--data", filepath.Join(t.TempDir(), "d.db")})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRecords_AddEditList(t *testing.T) {
	data := filepath.Join(t.TempDir(), "records.db")

	out, err := execute(t, "records", "add", `{"text":"hi"}`, "--data", data)
	require.NoError(t, err)
	assert.Contains(t, out, "queued local record 1")

	// A pending insert has no external id yet, so it is not listed.
	out, err = execute(t, "records", "list", "--data", data, "--format", "json")
	require.NoError(t, err)
	var recs []adapter.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	assert.Empty(t, recs)

	_, err = execute(t, "records", "add", "not json", "--data", data)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "records", "edit", "0", `{}`, "--data", data)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "records", "rm", "7", "--data", data)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestChanges_PrintsLog(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "changes.db")
	store, err := changelog.OpenSQLite(dsn)
	require.NoError(t, err)
	ctx := context.Background()
	for _, c := range []changelog.Change{
		{Collection: "messages", ExternalID: 1, Type: changelog.Insert},
		{Collection: "messages", ExternalID: 1, Type: changelog.Update},
		{Collection: "other", ExternalID: 9, Type: changelog.Insert},
	} {
		_, err := store.Append(ctx, c)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	t.Setenv("COORDSYNC_CHANGELOG_DRIVER", "sqlite")
	t.Setenv("COORDSYNC_CHANGELOG_DSN", dsn)
	noEnv := filepath.Join(t.TempDir(), "missing.env")

	out, err := execute(t, "changes", "--env-file", noEnv, "--collection", "messages")
	require.NoError(t, err)
	assert.Equal(t, "1\tinsert\t1\n2\tupdate\t1\n", out)

	out, err = execute(t, "changes", "--env-file", noEnv, "--collection", "messages", "--from", "1", "--format", "json")
	require.NoError(t, err)
	var changes []changelog.Change
	require.NoError(t, json.Unmarshal([]byte(out), &changes))
	require.Len(t, changes, 1)
	assert.Equal(t, changelog.Update, changes[0].Type)
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	t.Setenv("COORDSYNC_SYNC_PORT", "not-a-port")
	_, err := execute(t, "changes", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSeedService(t *testing.T) {
	svc, err := seedService(config.Peer{ID: "n2", Addr: "10.0.0.2:7011"})
	require.NoError(t, err)
	assert.Equal(t, "n2", svc.NodeID)
	assert.Equal(t, "10.0.0.2:7011", svc.Addr())

	_, err = seedService(config.Peer{ID: "n3", Addr: "10.0.0.3"})
	assert.Error(t, err)
}
