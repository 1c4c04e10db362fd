package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// ScanLocal lists the regular files under root, keyed by slash-separated
// relative path. Symlinks are not followed and top-level directories named
// in skipDirs are left out. With hash set every file is read to compute
// its MD5.
func ScanLocal(ctx context.Context, root string, hash bool, skipDirs ...string) (map[string]LocalFile, error) {
	skip := make(map[string]bool, len(skipDirs))
	for _, d := range skipDirs {
		skip[d] = true
	}
	files := make(map[string]LocalFile)

	err := filepath.WalkDir(root, func(current string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = path.Clean(filepath.ToSlash(rel))

		if d.IsDir() {
			if skip[rel] {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		file := LocalFile{
			RelativePath: rel,
			Size:         info.Size(),
			ModTime:      info.ModTime(),
		}
		if hash {
			if file.Hash, err = hashFile(current); err != nil {
				return err
			}
		}
		files[rel] = file
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func hashFile(path string) (hash string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
