package patch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/patch"
)

func entryByName(t *testing.T, entries []archive.Entry, name string) archive.Entry {
	t.Helper()
	for _, e := range entries {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("no entry named %q in %v", name, entries)
	return archive.Entry{}
}

func TestApplyModifiesMatchingLine(t *testing.T) {
	entries := []archive.Entry{
		archive.NewEntry("file.txt", 0o644, []byte("line1\nline2\nline3\n")),
	}

	diffText := "" +
		"diff --git a/file.txt b/file.txt\n" +
		"index 0000000..1111111 100644\n" +
		"--- a/file.txt\n" +
		"+++ b/file.txt\n" +
		"@@ -1,3 +1,3 @@\n" +
		" line1\n" +
		"-line2\n" +
		"+line2-mod\n" +
		" line3\n"

	out, err := patch.Apply(entries, diffText)
	require.NoError(t, err)

	e := entryByName(t, out, "file.txt")
	require.Equal(t, "line1\nline2-mod\nline3\n", string(e.Data))
}

func TestApplyToleratesShiftedContextWithinFuzz(t *testing.T) {
	entries := []archive.Entry{
		archive.NewEntry("file.txt", 0o644, []byte("prelude\nline1\nline2\nline3\n")),
	}

	// Hunk still claims line2 starts at original line 2, but the real
	// file has an extra "prelude" line inserted before it; the fuzzy
	// search must slide the match forward by one line.
	diffText := "" +
		"diff --git a/file.txt b/file.txt\n" +
		"index 0000000..1111111 100644\n" +
		"--- a/file.txt\n" +
		"+++ b/file.txt\n" +
		"@@ -1,3 +1,3 @@\n" +
		" line1\n" +
		"-line2\n" +
		"+line2-mod\n" +
		" line3\n"

	out, err := patch.Apply(entries, diffText)
	require.NoError(t, err)

	e := entryByName(t, out, "file.txt")
	require.Equal(t, "prelude\nline1\nline2-mod\nline3\n", string(e.Data))
}

func TestApplyUnmatchedHunkFails(t *testing.T) {
	entries := []archive.Entry{
		archive.NewEntry("file.txt", 0o644, []byte("alpha\nbeta\ngamma\n")),
	}

	diffText := "" +
		"diff --git a/file.txt b/file.txt\n" +
		"index 0000000..1111111 100644\n" +
		"--- a/file.txt\n" +
		"+++ b/file.txt\n" +
		"@@ -1,3 +1,3 @@\n" +
		" nope1\n" +
		"-nope2\n" +
		"+fixed\n" +
		" nope3\n"

	_, err := patch.Apply(entries, diffText)
	require.Error(t, err)
}

func TestApplyCreatesNewFile(t *testing.T) {
	var entries []archive.Entry

	diffText := "" +
		"diff --git a/newfile.txt b/newfile.txt\n" +
		"new file mode 100644\n" +
		"index 0000000..2222222\n" +
		"--- /dev/null\n" +
		"+++ b/newfile.txt\n" +
		"@@ -0,0 +1 @@\n" +
		"+hello\n"

	out, err := patch.Apply(entries, diffText)
	require.NoError(t, err)

	e := entryByName(t, out, "newfile.txt")
	require.Equal(t, "hello\n", string(e.Data))
	require.EqualValues(t, 0o644, e.Mode)
}

func TestApplyCreateFailsWhenFileAlreadyExists(t *testing.T) {
	entries := []archive.Entry{
		archive.NewEntry("newfile.txt", 0o644, []byte("already here\n")),
	}

	diffText := "" +
		"diff --git a/newfile.txt b/newfile.txt\n" +
		"new file mode 100644\n" +
		"index 0000000..2222222\n" +
		"--- /dev/null\n" +
		"+++ b/newfile.txt\n" +
		"@@ -0,0 +1 @@\n" +
		"+hello\n"

	_, err := patch.Apply(entries, diffText)
	require.Error(t, err)
}

func TestApplyDeletesFile(t *testing.T) {
	entries := []archive.Entry{
		archive.NewEntry("gone.txt", 0o644, []byte("bye\n")),
		archive.NewEntry("keep.txt", 0o644, []byte("stay\n")),
	}

	diffText := "" +
		"diff --git a/gone.txt b/gone.txt\n" +
		"deleted file mode 100644\n" +
		"index 1111111..0000000\n" +
		"--- a/gone.txt\n" +
		"+++ /dev/null\n" +
		"@@ -1 +0,0 @@\n" +
		"-bye\n"

	out, err := patch.Apply(entries, diffText)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "keep.txt", out[0].Name)
}

func TestApplyDeleteFailsWhenFileMissing(t *testing.T) {
	var entries []archive.Entry

	diffText := "" +
		"diff --git a/gone.txt b/gone.txt\n" +
		"deleted file mode 100644\n" +
		"index 1111111..0000000\n" +
		"--- a/gone.txt\n" +
		"+++ /dev/null\n" +
		"@@ -1 +0,0 @@\n" +
		"-bye\n"

	_, err := patch.Apply(entries, diffText)
	require.Error(t, err)
}

func TestApplyRenamesFile(t *testing.T) {
	entries := []archive.Entry{
		archive.NewEntry("old.txt", 0o644, []byte("content\n")),
	}

	diffText := "" +
		"diff --git a/old.txt b/new.txt\n" +
		"similarity index 100%\n" +
		"rename from old.txt\n" +
		"rename to new.txt\n"

	out, err := patch.Apply(entries, diffText)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "new.txt", out[0].Name)
	require.Equal(t, "content\n", string(out[0].Data))
}

func TestApplyChangesFileMode(t *testing.T) {
	entries := []archive.Entry{
		archive.NewEntry("script.sh", 0o644, []byte("echo hi\n")),
	}

	diffText := "" +
		"diff --git a/script.sh b/script.sh\n" +
		"old mode 100644\n" +
		"new mode 100755\n"

	out, err := patch.Apply(entries, diffText)
	require.NoError(t, err)

	e := entryByName(t, out, "script.sh")
	require.EqualValues(t, 0o755, e.Mode)
	require.Equal(t, "echo hi\n", string(e.Data))
}

func TestApplyNoNewlineAtEOFMarkerOnDeletion(t *testing.T) {
	entries := []archive.Entry{
		archive.NewEntry("file.txt", 0o644, []byte("line1\nline2")),
	}

	diffText := "" +
		"diff --git a/file.txt b/file.txt\n" +
		"index 0000000..1111111 100644\n" +
		"--- a/file.txt\n" +
		"+++ b/file.txt\n" +
		"@@ -1,2 +1,2 @@\n" +
		" line1\n" +
		"-line2\n" +
		"\\ No newline at end of file\n" +
		"+line2-mod\n" +
		"\\ No newline at end of file\n"

	out, err := patch.Apply(entries, diffText)
	require.NoError(t, err)

	e := entryByName(t, out, "file.txt")
	require.Equal(t, "line1\nline2-mod", string(e.Data))
}
