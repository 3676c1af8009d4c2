// Package patch applies a unified-diff patch text to a set of archive
// entries. The parser leans on go-diff's file-level splitting and
// extended-header handling; grouping hunk bodies into
// context/insertion/deletion runs and the fuzzy hunk-apply algorithm
// are implemented directly in this package.
package patch

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/sourcegraph/go-diff/diff"
)

type mutationKind int

const (
	kindContext mutationKind = iota
	kindDeletion
	kindInsertion
)

// hunkPart is a run of consecutive same-kind lines inside one hunk
// body: context/deletion lines are matched against the file verbatim;
// insertion lines are spliced in.
type hunkPart struct {
	kind           mutationKind
	lines          []string
	noNewlineAtEOF bool
}

type hunkRange struct {
	start  int
	length int
}

type hunk struct {
	origRange hunkRange
	modRange  hunkRange
	parts     []hunkPart
}

type partKind int

const (
	partModify partKind = iota
	partCreate
	partDelete
	partModeChange
	partRename
)

// filePart is one entry of the patch, four part kinds
// (file-creation, file-deletion, file-mode-change, file-rename) plus
// file-patch (here partModify, carrying the hunk sequence).
type filePart struct {
	kind  partKind
	path  string
	from  string
	to    string
	mode  uint32
	hunk  *hunk
	hunks []hunk
}

const defaultCreateMode = 0o644

func parsePatch(patchText string) ([]filePart, error) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(patchText))
	if err != nil {
		return nil, errors.Wrap(err, "patch: parsing diff")
	}

	parts := make([]filePart, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		part, err := classifyFileDiff(fd)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// classifyFileDiff reads a FileDiff's extended git headers ("new file
// mode", "deleted file mode", "rename from/to", "old mode"/"new mode")
// to decide which of the four non-modify part kinds it is, falling back
// to a file-patch when none apply.
func classifyFileDiff(fd *diff.FileDiff) (filePart, error) {
	var isNewFile, isDeletedFile, isRename bool
	var mode uint32
	var renameFrom, renameTo string

	for _, ext := range fd.Extended {
		switch {
		case strings.HasPrefix(ext, "new file mode "):
			isNewFile = true
			m, err := parseOctalMode(strings.TrimPrefix(ext, "new file mode "))
			if err != nil {
				return filePart{}, err
			}
			mode = m
		case strings.HasPrefix(ext, "deleted file mode "):
			isDeletedFile = true
		case strings.HasPrefix(ext, "new mode "):
			m, err := parseOctalMode(strings.TrimPrefix(ext, "new mode "))
			if err != nil {
				return filePart{}, err
			}
			mode = m
		case strings.HasPrefix(ext, "rename from "):
			isRename   = true
			renameFrom = strings.TrimPrefix(ext, "rename from ")
		case strings.HasPrefix(ext, "rename to "):
			isRename = true
			renameTo = strings.TrimPrefix(ext, "rename to ")
		}
	}

	switch {
	case isRename:
		return filePart{kind: partRename, from: renameFrom, to: renameTo}, nil

	case isNewFile:
		path := stripGitPrefix(fd.NewName)
		if mode == 0 {
			mode = defaultCreateMode
		}
		h, err := firstHunk(fd)
		if err != nil {
			return filePart{}, err
		}
		return filePart{kind: partCreate, path: path, mode: mode, hunk: h}, nil

	case isDeletedFile:
		return filePart{kind: partDelete, path: stripGitPrefix(fd.OrigName)}, nil

	case len(fd.Hunks) == 0:
		return filePart{kind: partModeChange, path: stripGitPrefix(fd.NewName), mode: mode}, nil

	default:
		hunks, err := convertHunks(fd.Hunks)
		if err != nil {
			return filePart{}, err
		}
		return filePart{kind: partModify, path: stripGitPrefix(fd.NewName), hunks: hunks}, nil
	}
}

func stripGitPrefix(name string) string {
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}

// parseOctalMode reads a git extended header's mode text (e.g.
// "100644", "100755") and keeps only the Unix permission bits, the
// same convention archive.Entry.Mode uses elsewhere (zip/tar/dir all
// store os.FileMode.Perm(), never the file-type bits git's octal text
// also carries).
func parseOctalMode(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "patch: invalid file mode %q", s)
	}
	return uint32(v) & 0o777, nil
}

func firstHunk(fd *diff.FileDiff) (*hunk, error) {
	if len(fd.Hunks) == 0 {
		return nil, nil
	}
	hunks, err := convertHunks(fd.Hunks[:1])
	if err != nil {
		return nil, err
	}
	return &hunks[0], nil
}

func convertHunks(diffHunks []*diff.Hunk) ([]hunk, error) {
	out := make([]hunk, 0, len(diffHunks))
	for _, dh := range diffHunks {
		parts, err := parseHunkBody(dh.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, hunk{
			origRange: hunkRange{start: zeroBasedStart(dh.OrigStartLine, dh.OrigLines), length: int(dh.OrigLines)},
			modRange:  hunkRange{start: zeroBasedStart(dh.NewStartLine, dh.NewLines), length: int(dh.NewLines)},
			parts:     parts,
		})
	}
	return out, nil
}

// zeroBasedStart converts a unified-diff hunk's 1-based starting line
// into a 0-based file_lines index. A zero-length side (pure insertion
// or pure deletion of the other side) is already expressed as the
// 0-based index of the line preceding it, per the unified-diff
// convention; a non-empty side is 1-based and needs the usual -1.
func zeroBasedStart(start, length int32) int {
	if length == 0 {
		return int(start)
	}
	return int(start) - 1
}

// parseHunkBody groups a hunk's raw body lines (each prefixed ' ', '+',
// '-', or the literal "\ No newline at end of file" marker) into runs
// of consecutive same-kind lines.
func parseHunkBody(body []byte) ([]hunkPart, error) {
	text := strings.TrimSuffix(string(body), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")

	var parts []hunkPart
	for _, line := range lines {
		if line == "" {
			parts = appendToPart(parts, kindContext, "")
			continue
		}
		switch line[0] {
		case ' ':
			parts = appendToPart(parts, kindContext, line[1:])
		case '+':
			parts = appendToPart(parts, kindInsertion, line[1:])
		case '-':
			parts = appendToPart(parts, kindDeletion, line[1:])
		case '\\':
			if len(parts) == 0 {
				return nil, errors.New("patch: no-newline marker precedes any hunk content")
			}
			parts[len(parts)-1].noNewlineAtEOF = true
		default:
			return nil, errors.Errorf("patch: unrecognized hunk line %q", line)
		}
	}
	return parts, nil
}

func appendToPart(parts []hunkPart, kind mutationKind, line string) []hunkPart {
	if n := len(parts); n > 0 && parts[n-1].kind == kind && !parts[n-1].noNewlineAtEOF {
		parts[n-1].lines = append(parts[n-1].lines, line)
		return parts
	}
	return append(parts, hunkPart{kind: kind, lines: []string{line}})
}

func trimTrailingSpace(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}
