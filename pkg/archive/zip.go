// Package archive packages job results and stages uploaded archives.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/andrewpyen/arcpy-automated-map-creation/log"
)

// Only deliverable artifact types end up in a results archive. Everything
// else in the work area (scratch workspaces, locks, intermediate rasters) is
// build debris.
var includeExts = []string{".lpkx", ".json", ".geodatabase", ".csv", ".txt"}

// Riser placeholders are produced for every run but are never part of a
// delivery.
var excludedNames = []string{"NullRiser.json", "InactiveRiser.json"}

// ZipDirectory packages the deliverable files under srcDir into destZip,
// keeping paths relative to srcDir. Parent directories of destZip are
// created. Returns the archive size in bytes.
func ZipDirectory(srcDir, destZip string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destZip), 0o755); err != nil {
		return 0, err
	}

	out, err := os.Create(destZip)
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(out)
	count := 0
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if lo.Contains(excludedNames, name) {
			return nil
		}
		if !lo.Contains(includeExts, strings.ToLower(filepath.Ext(name))) {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		zw.Close()
		out.Close()
		return 0, err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if count == 0 {
		os.Remove(destZip)
		return 0, fmt.Errorf("nothing to package under %s", srcDir)
	}

	info, err := os.Stat(destZip)
	if err != nil {
		return 0, err
	}
	log.GetLogger().Info("packaged results",
		zap.String("zip", destZip),
		zap.Int("files", count),
		zap.String("size", humanize.Bytes(uint64(info.Size()))))
	return info.Size(), nil
}

// Unzip extracts zipPath into destDir, rejecting entries that would escape
// it.
func Unzip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	root := filepath.Clean(destDir)

	for _, f := range r.File {
		target := filepath.Join(root, f.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("illegal path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// RemoveLockFiles deletes leftover geoprocessing lock files under dir so
// they cannot hold the archive step hostage on Windows shares.
func RemoveLockFiles(dir string) int {
	removed := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".lock") {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	return removed
}
