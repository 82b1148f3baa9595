package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(Options{Service: "loand", Env: "test", Level: "debug", Output: &buf})
	defer closer.Close()

	logger.Debug("sweep finished", slog.Int("checked", 3))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "sweep finished", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "loand", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestNewTeesToRotatedFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "loand.log")
	logger, closer := New(Options{Service: "loand", File: path, MaxSizeMB: 1, Output: &buf})
	logger.Info("started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"started"`)
	require.Equal(t, buf.String(), string(data))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer abc").Value.String())
	require.Equal(t, "abc", MaskField("request_id", "abc").Value.String())
	require.Equal(t, "", MaskField("authorization", "").Value.String())
	require.Equal(t, "loan1qqq…wxyz", MaskField("caller", "loan1qqqqqqqqqqqqqqqqqqqqqqwxyz").Value.String())
}
