package rules

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

func isYAML(p string) bool {
	l := strings.ToLower(p)
	return strings.HasSuffix(l, ".yml") || strings.HasSuffix(l, ".yaml")
}

// LoadDir loads every .yaml/.yml file under root, recursively, in a
// stable (lexical) order so repeated scans of the same tree produce the
// same rule set.
func LoadDir(root string) ([]RuleFile, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(p) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return LoadAll(paths)
}
