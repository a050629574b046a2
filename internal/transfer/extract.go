package transfer

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractArchive unpacks the verified archive into targetDir. Any
// existing directory at targetDir is removed first: extraction is
// all-or-nothing, never a partial merge. Archive members are rooted
// under targetDir's parent, matching how the remote side packed the
// item directory relative to its parent.
func ExtractArchive(archivePath, targetDir string) error {
	if _, err := os.Stat(targetDir); err == nil {
		if err := os.RemoveAll(targetDir); err != nil {
			return fmt.Errorf("%w: remove stale target: %v", ErrExtractionFailed, err)
		}
	}

	parent := filepath.Dir(targetDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		if err := extractMember(tr, hdr, parent); err != nil {
			return err
		}
	}
	return nil
}

func extractMember(tr *tar.Reader, hdr *tar.Header, parent string) error {
	name := filepath.Clean(hdr.Name)
	if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
		return fmt.Errorf("%w: unsafe member name %q", ErrExtractionFailed, hdr.Name)
	}
	dest := filepath.Join(parent, name)

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		buf := copyBufs.Get()
		_, err = io.CopyBuffer(out, tr, buf)
		copyBufs.Put(buf)
		if err != nil {
			out.Close()
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
	default:
		// Symlinks, devices etc. never appear in the cache layout; skip
		// them rather than risk writing outside the cache.
	}
	return nil
}
