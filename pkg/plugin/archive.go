package plugin

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxExtractedBytes caps the total size unpacked from one tarball
const maxExtractedBytes = 512 << 20

// extractTarGz unpacks a gzipped tarball into dest. Entries that would land
// outside dest and link entries are rejected; the install never sees them.
func extractTarGz(tarball, dest string) error {
	f, err := os.Open(tarball)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("invalid gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var total int64

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return securityError("extract", "tarball entry escapes the extraction directory", hdr.Name)
		}
		if err != nil {
			return fmt.Errorf("invalid tar stream: %w", err)
		}

		name := strings.TrimPrefix(filepath.ToSlash(hdr.Name), "./")
		if name == "" || name == "." {
			continue
		}
		if !IsPathSafe(dest, filepath.FromSlash(name)) {
			return securityError("extract", "tarball entry escapes the extraction directory", hdr.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(hdr.FileInfo().Mode())); err != nil {
				return err
			}

		case tar.TypeReg:
			total += hdr.Size
			if total > maxExtractedBytes {
				return &Error{Kind: KindResource, Op: "extract", Reason: "tarball exceeds the extraction size limit", Path: hdr.Name}
			}
			if err := writeEntry(tr, target, hdr); err != nil {
				return err
			}

		case tar.TypeSymlink, tar.TypeLink:
			return securityError("extract", "tarball contains a link entry", hdr.Name)

		case tar.TypeXGlobalHeader:
			continue

		default:
			return securityError("extract", fmt.Sprintf("unsupported tarball entry type %q", hdr.Typeflag), hdr.Name)
		}
	}
}

func writeEntry(r io.Reader, target string, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode(hdr.FileInfo().Mode()))
	if err != nil {
		return err
	}

	if _, err := io.CopyN(out, r, hdr.Size); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// dirMode keeps permission bits but guarantees the owner can traverse
func dirMode(mode os.FileMode) os.FileMode {
	return mode.Perm() | 0700
}

// fileMode keeps permission bits but guarantees the owner can read and write
func fileMode(mode os.FileMode) os.FileMode {
	return mode.Perm() | 0600
}
