// Package backup creates, schedules, and restores gzip-compressed tar
// archives of the database dump and the blob tree.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/selfdb-io/selfdb/internal/httpx"
)

// ArchiveNameRE matches the canonical backup file name.
var ArchiveNameRE = regexp.MustCompile(`^selfdb_backup_\d{8}_\d{6}\.tar\.gz$`)

// ValidArchiveName gates every path parameter that names an archive, which
// keeps download/delete from walking outside the backup directory.
func ValidArchiveName(name string) bool {
	return ArchiveNameRE.MatchString(name)
}

// writeArchive tars srcDir into a gzip stream at dst.
func writeArchive(dst, srcDir string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// extractArchive unpacks a tar.gz into dstDir. Entries with absolute paths or
// .. segments are rejected outright; a hostile archive must not escape the
// extraction root.
func extractArchive(src io.Reader, dstDir string) error {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return httpx.BadRequest("Not a gzip archive: " + err.Error())
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return httpx.BadRequest("Corrupt archive: " + err.Error())
		}
		if err := checkEntryName(hdr.Name); err != nil {
			return err
		}
		target := filepath.Join(dstDir, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and devices have no business in a backup.
			return httpx.BadRequest(fmt.Sprintf("Unsupported archive entry type for %q", hdr.Name))
		}
	}
}

// checkEntryName rejects absolute paths and parent-directory escapes.
func checkEntryName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return httpx.BadRequest("Archive entry with absolute path: " + name)
	}
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return httpx.BadRequest("Archive entry escapes extraction root: " + name)
		}
	}
	return nil
}

// copyTree copies a directory recursively; the blob-tree half of a restore.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	})
}
