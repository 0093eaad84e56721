package commands

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed all:scaffold
var scaffoldFS embed.FS

// copyScaffold copies an embedded project skeleton to targetDir.
// Existing files are kept unless force is set.
func copyScaffold(name, targetDir string, force bool) error {
	root := path.Join("scaffold", name)

	return fs.WalkDir(scaffoldFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if relPath == "" {
			return nil
		}

		targetPath := filepath.Join(targetDir, filepath.FromSlash(renameSpecialFiles(relPath)))

		if d.IsDir() {
			return os.MkdirAll(targetPath, 0750)
		}

		if !force {
			if _, err := os.Stat(targetPath); err == nil {
				return nil
			}
		}

		content, err := scaffoldFS.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(targetPath, content, 0600)
	})
}

// renameSpecialFiles turns "gitignore" into ".gitignore"; embed skips dotfiles
// in some toolchains.
func renameSpecialFiles(p string) string {
	dir, base := path.Split(p)
	if base == "gitignore" {
		return dir + ".gitignore"
	}
	return p
}

// listScaffoldFiles returns the files of a skeleton as they are written.
func listScaffoldFiles(name string) ([]string, error) {
	var files []string
	root := path.Join("scaffold", name)

	err := fs.WalkDir(scaffoldFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
			files = append(files, renameSpecialFiles(rel))
		}
		return nil
	})
	return files, err
}

// groupScaffoldFiles groups files by category for display.
func groupScaffoldFiles(files []string) map[string][]string {
	groups := map[string][]string{
		"config":    {},
		"templates": {},
		"data":      {},
	}
	for _, f := range files {
		switch {
		case strings.HasPrefix(f, "templates/"):
			groups["templates"] = append(groups["templates"], f)
		case strings.HasSuffix(f, ".yaml") && f != "leapcalc.yaml":
			groups["data"] = append(groups["data"], f)
		default:
			groups["config"] = append(groups["config"], f)
		}
	}
	return groups
}
