package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv isolates the command from the caller's environment and resets
// flag state left behind by earlier executions.
func testEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bookspirit.db")
	for _, key := range []string{"AI_API_KEY", "COZE_BOT_ID", "COZE_API_TOKEN", "DIALOG_LOG_DIR"} {
		t.Setenv(key, "")
	}
	t.Setenv("DB_PATH", dbPath)

	cfgDBPath, cfgEnvFile, cfgLogLevel = "", "", "error"
	askUserID, askBook, askChapter, askAddr, askJSON = "", "", "", "", false
	migrateSeed = false
	versionJSON = false
	return dbPath
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), err
}

func TestVersion_Human(t *testing.T) {
	testEnv(t)
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "bookspirit dev")
	assert.Contains(t, out, "commit:")
	assert.Contains(t, out, "os:")
}

func TestVersion_JSON(t *testing.T) {
	testEnv(t)
	out, err := execute(t, "", "version", "--json")
	require.NoError(t, err)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info.Version)
	assert.NotEmpty(t, info.Go)
}

func TestMigrate_Seed(t *testing.T) {
	dbPath := testEnv(t)
	out, err := execute(t, "", "migrate", "--seed", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, dbPath)
	assert.Contains(t, out, `Seeded 7 books and reader "demo"`)

	// Seeding twice is harmless.
	_, err = execute(t, "", "migrate", "--seed", "--log-level", "error")
	require.NoError(t, err)
}

func TestAsk_LocalEngine(t *testing.T) {
	testEnv(t)
	_, err := execute(t, "", "migrate", "--seed", "--log-level", "error")
	require.NoError(t, err)

	out, err := execute(t, "", "ask", "--user", "demo", "--json", "--log-level", "error", "我的计划是什么")
	require.NoError(t, err)

	var reply map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &reply))
	assert.Equal(t, "query_plan", reply["intent"])
	assert.Equal(t, 1.0, reply["confidence"])
	assert.Contains(t, reply["reply"], "我还没看到你近期的学习计划")
}

func TestAsk_InteractiveKeepsGoing(t *testing.T) {
	testEnv(t)
	out, err := execute(t, "我的进度怎么样\n\n我的计划是什么\n", "ask", "--user", "demo", "--json", "--log-level", "error")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"intent":"query_progress"`)
	assert.Contains(t, lines[1], `"intent":"query_plan"`)
}

func TestAsk_RejectsBadUser(t *testing.T) {
	testEnv(t)
	_, err := execute(t, "", "ask", "--user", "a b", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user ID")
}

func TestRoot_BadLogLevel(t *testing.T) {
	testEnv(t)
	_, err := execute(t, "", "version", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}

func TestRoot_MissingEnvFile(t *testing.T) {
	testEnv(t)
	_, err := execute(t, "", "version", "--env-file", filepath.Join(t.TempDir(), "nope.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load env file")
}
