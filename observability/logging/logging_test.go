package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// whatever was written to it.
func captureStdout(t *testing.T, fn func()) []byte {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	original := os.Stdout
	os.Stdout = w
	fn()
	require.NoError(t, w.Close())
	os.Stdout = original

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestSetupRenamesStandardAttributeKeysAndTagsServiceEnv(t *testing.T) {
	out := captureStdout(t, func() {
		Setup("lending-market", "test").Info("pool created")
	})

	var record map[string]any
	require.NoError(t, json.Unmarshal(out, &record))
	require.Contains(t, record, "timestamp")
	require.Contains(t, record, "severity")
	require.Equal(t, "pool created", record["message"])
	require.Equal(t, "lending-market", record["service"])
	require.Equal(t, "test", record["env"])
	require.NotContains(t, record, "msg")
	require.NotContains(t, record, "time")
	require.NotContains(t, record, "level")
}
