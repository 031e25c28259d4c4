// Package updatecheck talks to an update server the way the
// application's update checker does: fetch the version descriptor,
// compare versions and download the installer.
package updatecheck

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	update "github.com/inconshreveable/go-update"
	"github.com/pkg/errors"
)

// DefaultURL is the version descriptor of a local test server.
const DefaultURL = "http://localhost:8080/version.json"

var (
	ErrGetDescriptor    = errors.New("updatecheck: failed to get version descriptor")
	ErrDecodeDescriptor = errors.New("updatecheck: failed to decode version descriptor")
	ErrNoDownloadURL    = errors.New("updatecheck: no download URL available")
	ErrDownload         = errors.New("updatecheck: failed to download installer")
	ErrSizeMismatch     = errors.New("updatecheck: installer size does not match file_size")
)

// Descriptor is the version document served on /version.json.
type Descriptor struct {
	Version         string   `json:"version"`
	UpdateMessage   string   `json:"update_message"`
	DownloadURL     string   `json:"download_url"`
	ReleaseNotesURL string   `json:"release_notes_url"`
	FileSize        int64    `json:"file_size"`
	UpdateRequired  bool     `json:"update_required"`
	Changelog       []string `json:"changelog"`
	// SHA256 is an optional hex digest of the installer.
	SHA256 string `json:"sha256,omitempty"`
}

type Client struct {
	URL        string
	Version    string
	HTTPClient *http.Client
}

// New returns a Client for the descriptor at url that reports
// currentVersion as the installed version.
func New(url, currentVersion string) *Client {
	return &Client{
		URL:        url,
		Version:    currentVersion,
		HTTPClient: http.DefaultClient,
	}
}

// Check fetches the descriptor and reports whether it announces a
// version newer than the client's.
func (c *Client) Check(ctx context.Context) (*Descriptor, bool, error) {
	rc, err := c.get(ctx, c.URL)
	if err != nil {
		return nil, false, errors.Wrap(err, ErrGetDescriptor.Error())
	}
	defer rc.Close()

	var d Descriptor
	if err := json.NewDecoder(rc).Decode(&d); err != nil {
		return nil, false, errors.Wrap(err, ErrDecodeDescriptor.Error())
	}
	newer := IsNewer(c.Version, d.Version)
	glog.V(2).Infof("current version %s, latest version %s, newer: %t", c.Version, d.Version, newer)
	return &d, newer, nil
}

// Download fetches the installer announced by d into dir and returns
// the path of the written file. The body is checked against d.FileSize
// and d.SHA256 when they are set, before the file is replaced
// atomically. Nothing is left in dir on failure.
func (c *Client) Download(ctx context.Context, d *Descriptor, dir string) (string, error) {
	if d.DownloadURL == "" {
		return "", ErrNoDownloadURL
	}
	opts := update.Options{
		TargetPath: filepath.Join(dir, fmt.Sprintf("LogiSetup_%s.exe", d.Version)),
		TargetMode: 0644,
	}
	if d.SHA256 != "" {
		checksum, err := hex.DecodeString(d.SHA256)
		if err != nil {
			return "", errors.Wrap(err, "updatecheck: failed to decode sha256")
		}
		opts.Checksum = checksum
		opts.Hash = crypto.SHA256
	}

	// go-update swaps an existing file, so there has to be one.
	created, err := touch(opts.TargetPath)
	if err != nil {
		return "", errors.Wrap(err, ErrDownload.Error())
	}
	fpath, err := c.apply(ctx, d, opts)
	if err != nil && created {
		os.Remove(opts.TargetPath)
	}
	return fpath, err
}

func (c *Client) apply(ctx context.Context, d *Descriptor, opts update.Options) (string, error) {
	rc, err := c.get(ctx, d.DownloadURL)
	if err != nil {
		return "", errors.Wrap(err, ErrDownload.Error())
	}
	defer rc.Close()

	// go-update reads the whole body before it swaps, so a wrong size
	// fails the read and leaves the target untouched.
	var rd io.Reader = rc
	if d.FileSize > 0 {
		rd = &sizeReader{r: rc, want: d.FileSize}
	}
	if err := update.Apply(rd, opts); err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			return "", errors.Wrapf(rerr, "updatecheck: failed to rollback %s", opts.TargetPath)
		}
		return "", errors.Wrap(err, ErrDownload.Error())
	}

	fi, err := os.Stat(opts.TargetPath)
	if err != nil {
		return "", errors.Wrap(err, ErrDownload.Error())
	}
	glog.Infof("Download complete: %s (%d bytes)", opts.TargetPath, fi.Size())
	return opts.TargetPath, nil
}

// sizeReader fails with ErrSizeMismatch once more than want bytes
// arrive or the stream ends short of want.
type sizeReader struct {
	r    io.Reader
	want int64
	n    int64
}

func (s *sizeReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if s.n > s.want {
		return n, errors.Wrapf(ErrSizeMismatch, "got more than %d bytes", s.want)
	}
	if err == io.EOF && s.n != s.want {
		return n, errors.Wrapf(ErrSizeMismatch, "got %d bytes, want %d", s.n, s.want)
	}
	return n, err
}

// get returns an open io.ReadCloser, if error is not nil. Caller has
// to close the io.ReadCloser.
func (c *Client) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", "Logi/"+c.Version)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status code %d: %s", url, resp.StatusCode, msg)
	}
	return resp.Body, nil
}

// touch creates fpath if it does not exist and reports whether it did.
func touch(fpath string) (bool, error) {
	if _, err := os.Stat(fpath); err == nil {
		return false, nil
	}
	fd, err := os.OpenFile(fpath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	return true, fd.Close()
}
