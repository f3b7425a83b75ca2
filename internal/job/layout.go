package job

import "path/filepath"

// layout resolves the on-disk locations of a job under root.
type layout struct {
	root string
}

type jobPaths struct {
	dir      string
	input    string
	output   string
	zips     string
	manifest string
}

func (l layout) job(id string) jobPaths {
	dir := filepath.Join(l.root, id)
	return jobPaths{
		dir:      dir,
		input:    filepath.Join(dir, "input"),
		output:   filepath.Join(dir, "output"),
		zips:     filepath.Join(dir, "zips"),
		manifest: filepath.Join(dir, "manifest.json"),
	}
}
