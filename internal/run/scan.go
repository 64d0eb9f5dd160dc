// Package run discovers run directories under a root and classifies their
// lifecycle state from the marker files the launcher leaves behind.
//
// Everything here is a pure function of filesystem state at call time and
// keeps no cache, so callers may invoke it on every poll tick.
package run

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DirPrefix is the naming convention for run directories.
const DirPrefix = "run_"

// Marker and log file names inside a run directory.
const (
	PIDFile    = "pid.txt"
	CwdFile    = "cwd.txt"
	StdoutFile = "agent-stdout.txt"
	StderrFile = "agent-stderr.txt"
)

// Stream names a watched log file of a run.
type Stream struct {
	Name string
	File string
}

// Streams are the log streams of every run, in emission order.
var Streams = []Stream{
	{Name: "stdout", File: StdoutFile},
	{Name: "stderr", File: StderrFile},
}

// Run is a discovered run directory.
type Run struct {
	ID  string
	Dir string
}

// LogPath returns the path of the given stream's log file.
func (r Run) LogPath(s Stream) string {
	return filepath.Join(r.Dir, s.File)
}

// Scan lists the run directories directly under root, sorted by name.
// A root that does not exist yet yields no runs and no error.
func Scan(root string) ([]Run, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading runs dir %s", root)
	}

	runs := make([]Run, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, DirPrefix) {
			continue
		}
		dir := filepath.Join(root, name)
		if !isDir(entry, dir) {
			continue
		}
		runs = append(runs, Run{ID: name, Dir: dir})
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	return runs, nil
}

// isDir reports whether entry is a directory, following symlinks.
func isDir(entry os.DirEntry, path string) bool {
	if entry.Type()&os.ModeSymlink == 0 {
		return entry.IsDir()
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
