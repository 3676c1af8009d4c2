package patch

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/archive"
)

type modKind int

const (
	modPush modKind = iota
	modPop
	modSplice
)

// modification is one edit to a file's line buffer, deferred until every
// hunk in the file has found its match so that the splices can be
// applied in a single pass against original line indices.
type modification struct {
	kind          modKind
	pushLine      string
	index         int
	numToDelete   int
	linesToInsert []string
}

// Apply runs patchText's file parts over entries, returning the patched
// set. Creation/deletion/rename/mode-change parts are applied directly;
// a file-patch part fuzzy-matches each of its hunks against the
// target's current lines before splicing in the changes.
func Apply(entries []archive.Entry, patchText string) ([]archive.Entry, error) {
	parts, err := parsePatch(patchText)
	if err != nil {
		return nil, err
	}

	byName := map[string]archive.Entry{}
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
		order = append(order, e.Name)
	}

	for _, part := range parts {
		switch part.kind {
		case partCreate:
			if _, exists := byName[part.path]; exists {
				return nil, errors.Errorf("patch: file %q already exists", part.path)
			}
			data := createFileContents(part.hunk)
			byName[part.path] = archive.NewEntry(part.path, part.mode, data)
			order = append(order, part.path)

		case partDelete:
			if _, exists := byName[part.path]; !exists {
				return nil, errors.Errorf("patch: file to delete %q not found", part.path)
			}
			delete(byName, part.path)
			order = removeName(order, part.path)

		case partModeChange:
			e, exists := byName[part.path]
			if !exists {
				return nil, errors.Errorf("patch: file to change mode of %q not found", part.path)
			}
			e.Mode = part.mode
			byName[part.path] = e

		case partRename:
			e, exists := byName[part.from]
			if !exists {
				return nil, errors.Errorf("patch: file to rename %q not found", part.from)
			}
			delete(byName, part.from)
			e.Name = part.to
			byName[part.to] = e
			order = renameName(order, part.from, part.to)

		case partModify:
			e, exists := byName[part.path]
			if !exists {
				return nil, errors.Errorf("patch: file to patch %q not found", part.path)
			}
			data, err := applyFilePatch(e.Data, part.hunks)
			if err != nil {
				return nil, errors.Wrapf(err, "patch: %s", part.path)
			}
			e.Data = data
			e = e.RecomputeCRC()
			byName[part.path] = e
		}
	}

	out := make([]archive.Entry, 0, len(order))
	for _, name := range order {
		if e, ok := byName[name]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func removeName(order []string, name string) []string {
	out := order[:0]
	for _, n := range order {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func renameName(order []string, from, to string) []string {
	out := make([]string, len(order))
	for i, n := range order {
		if n == from {
			out[i] = to
		} else {
			out[i] = n
		}
	}
	return out
}

// createFileContents builds a brand-new file's bytes from its single
// insertion hunk: the hunk carries exactly one part (all inserted
// lines), joined with "\n" and given a trailing newline unless the
// patch's own no-newline-at-eof marker says otherwise.
func createFileContents(h *hunk) []byte {
	if h == nil || len(h.parts) == 0 {
		return nil
	}
	part := h.parts[0]
	text := strings.Join(part.lines, "\n")
	if !part.noNewlineAtEOF {
		text += "\n"
	}
	return []byte(text)
}

// evaluateHunk checks whether h's context and deletion lines match
// fileLines starting at offset (trailing whitespace ignored),
// returning the edits that would realize it. ok is false when any
// line fails to match, meaning this offset is not where the hunk
// belongs.
func evaluateHunk(h hunk, fileLines []string, offset int) ([]modification, bool) {
	if offset < 0 {
		return nil, false
	}

	var mods []modification
	pos := offset

	for _, part := range h.parts {
		switch part.kind {
		case kindContext, kindDeletion:
			for _, line := range part.lines {
				if pos >= len(fileLines) {
					return nil, false
				}
				if trimTrailingSpace(fileLines[pos]) != trimTrailingSpace(line) {
					return nil, false
				}
				pos++
			}

			if part.kind == kindDeletion {
				mods = append(mods, modification{
					kind:        modSplice,
					index:       pos - len(part.lines),
					numToDelete: len(part.lines),
				})
				if part.noNewlineAtEOF {
					mods = append(mods, modification{kind: modPush, pushLine: ""})
				}
			}

		case kindInsertion:
			mods = append(mods, modification{
				kind:          modSplice,
				index:         pos,
				numToDelete:   0,
				linesToInsert: append([]string(nil), part.lines...),
			})
			if part.noNewlineAtEOF {
				mods = append(mods, modification{kind: modPop})
			}
		}
	}

	return mods, true
}

// applyFilePatch runs every hunk of a file-patch part against data's
// lines: each hunk is first-guessed at its recorded position adjusted
// by the running fixup offset, then searched outward within the fuzz
// bounds allowed by distance to the previous hunk's end and to the
// file's end.
func applyFilePatch(data []byte, hunks []hunk) ([]byte, error) {
	fileLines := strings.Split(string(data), "\n")

	allMods := make([][]modification, 0, len(hunks))
	fixupOffset := 0
	maxFrozenLine := 0

	for hunkIdx, h := range hunks {
		firstGuess := max(maxFrozenLine, h.modRange.start+fixupOffset)

		maxPrefixFuzz := max(0, firstGuess-maxFrozenLine)
		maxSuffixFuzz := max(0, len(fileLines)-firstGuess-h.origRange.length)
		maxFuzz := max(maxPrefixFuzz, maxSuffixFuzz)

		var mods []modification
		location := firstGuess
		found := false
		nextFixupOffset := fixupOffset

		for offset := 0; offset <= maxFuzz; offset++ {
			if offset <= maxPrefixFuzz {
				loc := firstGuess - offset
				if m, ok := evaluateHunk(h, fileLines, loc); ok {
					mods, location, found = m, loc, true
					nextFixupOffset = fixupOffset - offset
					break
				}
			}
			if offset <= maxSuffixFuzz {
				loc := firstGuess + offset
				if m, ok := evaluateHunk(h, fileLines, loc); ok {
					mods, location, found = m, loc, true
					nextFixupOffset = fixupOffset + offset
					break
				}
			}
		}

		if !found {
			return nil, errors.Errorf("unmatched hunk %d", hunkIdx)
		}

		allMods = append(allMods, mods)
		fixupOffset = nextFixupOffset
		maxFrozenLine = location + h.origRange.length
	}

	diffOffset := 0
	for _, mods := range allMods {
		for _, m := range mods {
			switch m.kind {
			case modPush:
				fileLines = append(fileLines, m.pushLine)
			case modPop:
				fileLines = fileLines[:len(fileLines)-1]
			case modSplice:
				first := m.index + diffOffset
				diffOffset += len(m.linesToInsert) - m.numToDelete
				tail := append([]string(nil), fileLines[first+m.numToDelete:]...)
				fileLines = append(fileLines[:first:first], m.linesToInsert...)
				fileLines = append(fileLines, tail...)
			}
		}
	}

	return []byte(strings.Join(fileLines, "\n")), nil
}
