package updatecheck

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/szuecs/update-test-server/api"
	"github.com/szuecs/update-test-server/conf"
)

// startFixtureServer runs the real fixture server over a temporary
// layout and returns its base URL. descriptor is formatted with the
// base URL, installer may be nil.
func startFixtureServer(t *testing.T, descriptor string, installer []byte) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	dir := filepath.Join(root, "tests", "update_test")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if installer != nil {
		out := filepath.Join(root, "installer", "output")
		if err := os.MkdirAll(out, 0755); err != nil {
			t.Fatal(err)
		}
		if err := ioutil.WriteFile(filepath.Join(out, "LogiSetup.exe"), installer, 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := conf.New()
	cfg.Dir = dir
	svc := api.NewService(&api.ServiceConfig{Config: cfg, AccessLog: ioutil.Discard})
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)

	if descriptor != "" {
		data := fmt.Sprintf(descriptor, ts.URL)
		if err := ioutil.WriteFile(filepath.Join(dir, "test_version.json"), []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return ts.URL
}

func TestClient_CheckAndDownload(t *testing.T) {
	installer := bytes.Repeat([]byte("LogiSetup"), 6000)
	sum := sha256.Sum256(installer)
	descriptor := `{
  "version": "1.3.0",
  "update_message": "A new version is available",
  "download_url": "%[1]s/LogiSetup.exe",
  "release_notes_url": "%[1]s/notes.html",
  "file_size": ` + fmt.Sprint(len(installer)) + `,
  "update_required": false,
  "changelog": ["faster parsing", "new theme"],
  "sha256": "` + hex.EncodeToString(sum[:]) + `"
}`
	base := startFixtureServer(t, descriptor, installer)

	c := New(base+"/version.json", "1.2.9")
	d, newer, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !newer {
		t.Fatal("1.3.0 not reported as newer than 1.2.9")
	}
	if d.Version != "1.3.0" || len(d.Changelog) != 2 || d.FileSize != int64(len(installer)) {
		t.Fatalf("wrong descriptor: %+v", d)
	}

	dir := t.TempDir()
	fpath, err := c.Download(context.Background(), d, dir)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if filepath.Base(fpath) != "LogiSetup_1.3.0.exe" {
		t.Fatalf("wrong file name: %s", fpath)
	}
	got, err := ioutil.ReadFile(fpath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, installer) {
		t.Fatal("downloaded installer differs from source")
	}
}

func TestClient_CheckUpToDate(t *testing.T) {
	base := startFixtureServer(t, `{"version": "1.2.0", "download_url": "%s/LogiSetup.exe"}`, nil)

	_, newer, err := New(base+"/version.json", "1.2.0").Check(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if newer {
		t.Fatal("same version reported as newer")
	}
}

func TestClient_CheckMissingDescriptor(t *testing.T) {
	base := startFixtureServer(t, "", nil)

	_, _, err := New(base+"/version.json", "1.0.0").Check(context.Background())
	if err == nil {
		t.Fatal("expected error for missing descriptor")
	}
	if !strings.Contains(err.Error(), "status code 404") {
		t.Fatalf("error does not report the status: %v", err)
	}
}

func TestClient_CheckInvalidJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "Logi/1.0.0" {
			t.Errorf("wrong user agent: %s", ua)
		}
		w.Write([]byte("{not json"))
	}))
	defer ts.Close()

	_, _, err := New(ts.URL, "1.0.0").Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), ErrDecodeDescriptor.Error()) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestClient_DownloadMissingInstaller(t *testing.T) {
	base := startFixtureServer(t, `{"version": "2.0.0", "download_url": "%s/LogiSetup.exe"}`, nil)
	c := New(base+"/version.json", "1.0.0")
	d, _, err := c.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Download(context.Background(), d, t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing installer")
	}
	if !strings.Contains(err.Error(), "Installer not found") {
		t.Fatalf("error does not carry the server message: %v", err)
	}
}

func TestClient_DownloadChecksRejects(t *testing.T) {
	installer := []byte("MZ fake installer")
	base := startFixtureServer(t, "", installer)
	c := New(base+"/version.json", "1.0.0")

	for _, tc := range []struct {
		name string
		d    *Descriptor
	}{
		{"no url", &Descriptor{Version: "2.0.0"}},
		{"bad checksum", &Descriptor{Version: "2.0.0", DownloadURL: base + "/LogiSetup.exe", SHA256: strings.Repeat("00", 32)}},
		{"bad hex", &Descriptor{Version: "2.0.0", DownloadURL: base + "/LogiSetup.exe", SHA256: "zz"}},
		{"wrong size", &Descriptor{Version: "2.0.0", DownloadURL: base + "/LogiSetup.exe", FileSize: 1}},
		{"short", &Descriptor{Version: "2.0.0", DownloadURL: base + "/LogiSetup.exe", FileSize: 1 << 20}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.Download(context.Background(), tc.d, t.TempDir()); err == nil {
				t.Fatal("download accepted")
			}
		})
	}

	for _, size := range []int64{1, int64(len(installer)) + 100} {
		dir := t.TempDir()
		_, err := c.Download(context.Background(), &Descriptor{Version: "2.0.0", DownloadURL: base + "/LogiSetup.exe", FileSize: size}, dir)
		if errors.Cause(err) != ErrSizeMismatch {
			t.Fatalf("file_size %d: expected ErrSizeMismatch, got %v", size, err)
		}
		if _, err := os.Stat(filepath.Join(dir, "LogiSetup_2.0.0.exe")); !os.IsNotExist(err) {
			t.Fatalf("file_size %d: installer left on disk after size mismatch", size)
		}
	}
	_, err := c.Download(context.Background(), &Descriptor{Version: "2.0.0", DownloadURL: base + "/LogiSetup.exe", FileSize: int64(len(installer))}, t.TempDir())
	if err != nil {
		t.Fatalf("matching file_size rejected: %v", err)
	}
	_, err = c.Download(context.Background(), &Descriptor{Version: "2.0.0"}, t.TempDir())
	if err != ErrNoDownloadURL {
		t.Fatalf("expected ErrNoDownloadURL, got %v", err)
	}
}
