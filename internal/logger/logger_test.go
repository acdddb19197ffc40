package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestSetupJSONFileOutput(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "docscan.log")
	require.NoError(t, Setup(LogConfig{Level: "debug", Format: "json", Output: path}))

	l := WithDocument("recognition", "scan_2024", "run-1")
	l.Info().Int("page", 2).Msg("Page recognized")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	require.Equal(t, "recognition", entry["component"])
	require.Equal(t, "scan_2024", entry["document_id"])
	require.Equal(t, "run-1", entry["run_id"])
	require.Equal(t, "Page recognized", entry["message"])
	require.EqualValues(t, 2, entry["page"])
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Setup(LogConfig{Level: "chatty"}))
}
