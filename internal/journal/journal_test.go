package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileJournal_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	j := NewFileJournal(path, 10, 2)

	j.Append("weighing_completed", map[string]any{
		"weighing": "PES-00042",
		"net":      16000.0,
	})
	j.Append("analysis_computed", map[string]any{
		"analysis":        "AN-00001",
		"commercial_mass": 980.0,
	})
	j.Close()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		entry := map[string]any{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "weighing_completed", lines[0]["event"])
	assert.Equal(t, "PES-00042", lines[0]["weighing"])
	assert.Equal(t, 16000.0, lines[0]["net"])
	assert.NotEmpty(t, lines[0]["time"])
	assert.NotContains(t, lines[0], "level", "the journal has no levels")

	assert.Equal(t, "analysis_computed", lines[1]["event"])
	assert.Equal(t, 980.0, lines[1]["commercial_mass"])
}

func TestNopJournal(t *testing.T) {
	j := NopJournal{}
	j.Append("weighing_completed", map[string]any{"weighing": "PES-00001"})
	j.Close()
}
