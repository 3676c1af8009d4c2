package archive

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ReadDir walks root and returns one Entry per regular file, skipping
// anything root's .gitignore excludes and the .git directory itself —
// the bundling step a Folder/Link fetch runs over a
// working tree before zipping it. A missing .gitignore behaves as an
// empty one.
func ReadDir(root string) ([]Entry, error) {
	ignore, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		ignore = gitignore.CompileIgnoreLines()
	}

	var entries []Entry
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignore.MatchesPath(rel) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, NewEntry(rel, uint32(info.Mode().Perm()), data))
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return entries, nil
}
