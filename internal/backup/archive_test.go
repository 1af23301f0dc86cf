package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "files", "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "database.sql"), []byte("CREATE TABLE t ();"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "files", "docs", "a.txt"), []byte("hello"), 0o644))

	archive := filepath.Join(t.TempDir(), "out.tar.gz")
	require.NoError(t, writeArchive(archive, src))

	dst := t.TempDir()
	in, err := os.Open(archive)
	require.NoError(t, err)
	defer in.Close()
	require.NoError(t, extractArchive(in, dst))

	got, err := os.ReadFile(filepath.Join(dst, "database.sql"))
	require.NoError(t, err)
	require.Equal(t, "CREATE TABLE t ();", string(got))

	got, err = os.ReadFile(filepath.Join(dst, "files", "docs", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestExtractRejectsGarbage(t *testing.T) {
	in, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer in.Close()
	require.Error(t, extractArchive(in, t.TempDir()))
}

func TestCheckEntryName(t *testing.T) {
	require.NoError(t, checkEntryName("files/docs/a.txt"))
	require.NoError(t, checkEntryName("database.sql"))

	for _, bad := range []string{"", "/etc/passwd", "../escape", "files/../../escape", "a/../../b"} {
		require.Error(t, checkEntryName(bad), bad)
	}
}

func TestValidArchiveName(t *testing.T) {
	require.True(t, ValidArchiveName("selfdb_backup_20260824_120000.tar.gz"))
	require.False(t, ValidArchiveName("selfdb_backup_20260824_120000.tar"))
	require.False(t, ValidArchiveName("../selfdb_backup_20260824_120000.tar.gz"))
	require.False(t, ValidArchiveName("other_20260824_120000.tar.gz"))
	require.False(t, ValidArchiveName(""))
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "f.bin"), []byte{1, 2, 3}, 0o644))

	dst := t.TempDir()
	require.NoError(t, copyTree(src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "nested", "f.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)
}
