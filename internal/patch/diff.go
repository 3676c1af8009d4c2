package patch

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/zpmjs/zpm/internal/archive"
)

// Diff compares an unpacked package's original entries against an
// edited copy of the same directory and renders a unified-diff text
// covering every changed, added, or removed file — the text a `Patch`
// reference's PatchPath file holds.
func Diff(original, edited []archive.Entry) (string, error) {
	byName := map[string]archive.Entry{}
	for _, e := range original {
		byName[e.Name] = e
	}
	editedByName := map[string]archive.Entry{}
	names := map[string]struct{}{}
	for _, e := range edited {
		editedByName[e.Name] = e
		names[e.Name] = struct{}{}
	}
	for name := range byName {
		names[name] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var out strings.Builder
	for _, name := range sorted {
		before, hadBefore := byName[name]
		after, hasAfter := editedByName[name]

		switch {
		case hadBefore && hasAfter:
			if string(before.Data) == string(after.Data) {
				continue
			}
			if err := writeFileDiff(&out, name, before.Data, after.Data); err != nil {
				return "", err
			}
		case hadBefore && !hasAfter:
			if err := writeFileDiff(&out, name, before.Data, nil); err != nil {
				return "", err
			}
		case !hadBefore && hasAfter:
			if err := writeFileDiff(&out, name, nil, after.Data); err != nil {
				return "", err
			}
		}
	}

	return out.String(), nil
}

func writeFileDiff(out *strings.Builder, name string, before, after []byte) error {
	fromLabel, toLabel := "a/"+name, "b/"+name
	if before == nil {
		fromLabel = "/dev/null"
	}
	if after == nil {
		toLabel = "/dev/null"
	}

	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: fromLabel,
		ToFile:   toLabel,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	out.WriteString("diff --git a/" + name + " b/" + name + "\n")
	out.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		out.WriteString("\n")
	}
	return nil
}
