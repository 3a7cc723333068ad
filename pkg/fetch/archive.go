package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// UntarGz unpacks a gzipped tarball into dest, stripping the given number
// of leading path components (the release archives wrap everything in a
// single top-level folder).
func UntarGz(archive, dest string, strip int) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("untar %s: %w", archive, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("untar %s: %w", archive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("untar %s: %w", archive, err)
		}

		name, ok := stripComponents(header.Name, strip)
		if !ok {
			continue
		}
		target, err := securePath(dest, name)
		if err != nil {
			return fmt.Errorf("untar %s: %w", archive, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("untar %s: %w", archive, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("untar %s: %w", archive, err)
			}
		default:
			// Symlinks and specials never appear in the release archives.
		}
	}
}

// Unzip unpacks a zip archive into dest.
func Unzip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("unzip %s: %w", archive, err)
	}
	defer r.Close()

	for _, file := range r.File {
		target, err := securePath(dest, file.Name)
		if err != nil {
			return fmt.Errorf("unzip %s: %w", archive, err)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("unzip %s: %w", archive, err)
			}
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("unzip %s: %w", archive, err)
		}
		err = writeEntry(target, rc, file.Mode().Perm())
		rc.Close()
		if err != nil {
			return fmt.Errorf("unzip %s: %w", archive, err)
		}
	}
	return nil
}

func stripComponents(name string, strip int) (string, bool) {
	name = filepath.ToSlash(name)
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) <= strip {
		return "", false
	}
	return strings.Join(parts[strip:], "/"), true
}

// securePath joins name under root, rejecting traversal outside it.
func securePath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) && target != filepath.Clean(root) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}

func writeEntry(target string, src io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
