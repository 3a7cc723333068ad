package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadWritesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "out.bin")
	f := &HTTPFetcher{Client: srv.Client()}
	if err := f.Download(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("downloaded %q, want payload", data)
	}
}

func TestDownloadReportsURLOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such archive", http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	f := &HTTPFetcher{Client: srv.Client()}
	err := f.Download(context.Background(), srv.URL+"/missing.tar.gz", dest)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), srv.URL+"/missing.tar.gz") {
		t.Errorf("error %q does not name the URL", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("partial file left behind after failed download")
	}
}

func TestUntarGzStripsLeadingComponent(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "release.tar.gz")
	writeTarGz(t, archive, map[string]string{
		"wordpress/index.php":          "<?php",
		"wordpress/wp-includes/who.php": "core",
	})

	dest := t.TempDir()
	if err := UntarGz(archive, dest, 1); err != nil {
		t.Fatalf("UntarGz: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "index.php")); err != nil {
		t.Errorf("index.php missing after strip: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "wp-includes", "who.php")); err != nil {
		t.Errorf("wp-includes/who.php missing after strip: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "wordpress")); !os.IsNotExist(err) {
		t.Error("leading component was not stripped")
	}
}

func TestUntarGzRejectsTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.tar.gz")
	writeTarGz(t, archive, map[string]string{
		"wordpress/../../evil.php": "x",
	})

	if err := UntarGz(archive, t.TempDir(), 1); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestUnzip(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "nightly.zip")
	writeZip(t, archive, map[string]string{
		"wordpress/index.php": "<?php",
	})

	dest := t.TempDir()
	if err := Unzip(archive, dest); err != nil {
		t.Fatalf("Unzip: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "wordpress", "index.php"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<?php" {
		t.Errorf("index.php = %q, want <?php", data)
	}
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}
