package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// SessionFile returns path of session file inside test temp dir
// The file itself is not created
func SessionFile(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "storefront", "session.json")
}

// ReadSessionFile decodes key/value session file written by session.FileStorage
// Missing file is read as empty map
func ReadSessionFile(t testing.TB, path string) map[string]string {
	t.Helper()

	values := map[string]string{}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return values
	}
	require.NoError(t, err, "Error happened when reading session file")

	err = json.Unmarshal(data, &values)
	require.NoError(t, err, "Session file must be JSON object with string values")

	return values
}

// WriteSessionFile replaces session file the way another process would
func WriteSessionFile(t testing.TB, path string, values map[string]string) {
	t.Helper()

	data, err := json.Marshal(values)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))

	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, data, 0o600))
	require.NoError(t, os.Rename(tmp, path))
}
