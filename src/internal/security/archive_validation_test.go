package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArchiveEntry_AllowsRelative(t *testing.T) {
	for _, name := range []string{"server", "bin/server.exe", "lib/a..b/x.dll", "./server"} {
		assert.NoError(t, ValidateArchiveEntry(name), name)
	}
}

func TestValidateArchiveEntry_BlocksTraversal(t *testing.T) {
	cases := []string{
		"../server",
		"bin/../../server",
		`..\server`,
		`bin\..\..\server`,
		"..",
	}
	for _, name := range cases {
		err := ValidateArchiveEntry(name)
		require.Error(t, err, name)
	}
}

func TestValidateArchiveEntry_BlocksAbsolute(t *testing.T) {
	for _, name := range []string{"/etc/passwd", `\Windows\system32`, "C:/server.exe", `C:\server.exe`} {
		err := ValidateArchiveEntry(name)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "absolute path")
	}
}

func TestValidateArchiveEntry_BlocksEmptyAndNul(t *testing.T) {
	assert.Error(t, ValidateArchiveEntry(""))
	assert.Error(t, ValidateArchiveEntry("bin/\x00server"))
	assert.Error(t, ValidateArchiveEntry("."))
}

func TestEntryDestination(t *testing.T) {
	dest := t.TempDir()

	got, err := EntryDestination(dest, "bin/server")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "bin", "server"), got)

	_, err = EntryDestination(dest, "../outside")
	assert.Error(t, err)
}
