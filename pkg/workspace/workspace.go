// Package workspace removes the stale artifacts a flashing run leaves in the
// image, readback and tools directories.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// HistoryFile is the resume state of the flashing tool.
const HistoryFile = "history.ini"

type Workspace struct {
	ImageDir    string
	ReadbackDir string
	ToolsDir    string
}

// RemoveMatching deletes the regular files in dir whose base name matches
// pattern (case-insensitive). A missing dir is not an error. Failed
// removals are logged and skipped; the names of removed files are returned.
func RemoveMatching(dir, pattern string, log logrus.FieldLogger) ([]string, error) {
	gl, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, fmt.Errorf("cannot use pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !gl.Match(strings.ToLower(e.Name())) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Debugf("cannot remove %s: %v", path, err)
			continue
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}

// RemoveHistory deletes the flashing tool's history.ini from the tools dir.
// The last used scatter file recorded in it is logged first.
func (w *Workspace) RemoveHistory(log logrus.FieldLogger) {
	path := filepath.Join(w.ToolsDir, HistoryFile)
	if _, err := os.Stat(path); err != nil {
		return
	}
	if last := lastScatter(path); last != "" {
		log.Debugf("flash tool history refers to %s", last)
	}
	if err := os.Remove(path); err != nil {
		log.Debugf("cannot remove %s: %v", path, err)
		return
	}
	log.Infof("removed %s", HistoryFile)
}

// lastScatter returns the first key whose name mentions a scatter file.
func lastScatter(path string) string {
	cfg, err := ini.LoadSources(ini.LoadOptions{Loose: true, Insensitive: true, SkipUnrecognizableLines: true}, path)
	if err != nil {
		return ""
	}
	for _, sec := range cfg.Sections() {
		for _, key := range sec.Keys() {
			if strings.Contains(key.Name(), "scatter") && key.String() != "" {
				return key.String()
			}
		}
	}
	return ""
}

func (w *Workspace) removeAll(dir string, patterns []string, log logrus.FieldLogger) {
	for _, pattern := range patterns {
		removed, err := RemoveMatching(dir, pattern, log)
		if err != nil {
			log.Debugf("cannot clean %s: %v", dir, err)
			continue
		}
		for _, name := range removed {
			log.Debugf("removed %s", name)
		}
	}
}

// CleanupBeforeFlow removes descriptors of earlier runs, readback copies of
// proinfo and the flashing tool history.
func (w *Workspace) CleanupBeforeFlow(log logrus.FieldLogger) {
	w.removeAll(w.ImageDir, []string{"*_Android_scatter.xml"}, log)
	w.removeAll(w.ReadbackDir, []string{"proinfo*"}, log)
	w.RemoveHistory(log)
}

// CleanupAfterFlow removes the descriptors of the platform (all platforms
// if it is empty) and readback copies of proinfo.
func (w *Workspace) CleanupAfterFlow(platform string, log logrus.FieldLogger) {
	pattern := "*_Android_scatter.xml"
	if platform != "" {
		pattern = platform + "_Android_scatter*.xml"
	}
	w.removeAll(w.ImageDir, []string{pattern}, log)
	w.removeAll(w.ReadbackDir, []string{"proinfo*"}, log)
}
