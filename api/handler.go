package api

import (
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const (
	// VersionPath serves the version descriptor.
	VersionPath = "/version.json"
	// InstallerPath serves the installer binary.
	InstallerPath = "/LogiSetup.exe"

	installerName = "LogiSetup.exe"
)

var (
	errVersionNotFound   = errors.New("Version file not found. Create test_version.json first.")
	errInstallerNotFound = errors.New("Installer not found. Run installer build first.")
	errNotRegularFile    = errors.New("not a regular file")
)

// Route is the outcome of matching a request path. The set is closed:
// every path is either one of the two fixtures or falls back to
// static file serving.
type Route int

const (
	RouteFallback Route = iota
	RouteVersion
	RouteInstaller
)

func (r Route) String() string {
	switch r {
	case RouteVersion:
		return "version"
	case RouteInstaller:
		return "installer"
	default:
		return "fallback"
	}
}

// MatchRoute returns the route that answers path.
func MatchRoute(path string) Route {
	switch path {
	case VersionPath:
		return RouteVersion
	case InstallerPath:
		return RouteInstaller
	}
	return RouteFallback
}

// allowAnyOrigin sets the CORS header on every fixture response,
// errors included.
func allowAnyOrigin() gin.HandlerFunc {
	return func(ginCtx *gin.Context) {
		ginCtx.Header("Access-Control-Allow-Origin", "*")
		ginCtx.Next()
	}
}

// VersionHandler handles /version.json endpoint
func (svc *Service) VersionHandler(ginCtx *gin.Context) {
	fpath := svc.cfg.VersionFilePath()
	fd, size, err := openFixture(fpath)
	if err != nil {
		fixtureError(ginCtx, fpath, err, errVersionNotFound)
		return
	}
	defer fd.Close()

	ginCtx.DataFromReader(http.StatusOK, size, "application/json", fd, nil)
	glog.V(2).Infof("Served %d bytes of %s", size, fpath)
}

// InstallerHandler handles /LogiSetup.exe endpoint
func (svc *Service) InstallerHandler(ginCtx *gin.Context) {
	fpath := svc.cfg.InstallerFilePath()
	fd, size, err := openFixture(fpath)
	if err != nil {
		fixtureError(ginCtx, fpath, err, errInstallerNotFound)
		return
	}
	defer fd.Close()

	headers := map[string]string{
		"Content-Disposition": `attachment; filename="` + installerName + `"`,
	}
	rd := &chunkReader{r: fd, size: svc.cfg.ChunkSize}
	ginCtx.DataFromReader(http.StatusOK, size, "application/octet-stream", rd, headers)
	glog.Infof("Copied %d bytes of %s to client", size, fpath)
}

// FallbackHandler serves everything that is not a fixture from the
// serving directory, including directory listings.
func (svc *Service) FallbackHandler(ginCtx *gin.Context) {
	switch ginCtx.Request.Method {
	case http.MethodGet, http.MethodHead:
	default:
		ginCtx.String(http.StatusNotImplemented, "Unsupported method (%s)", ginCtx.Request.Method)
		return
	}
	// gin presets 404 for unmatched routes, the file server only sets
	// a status on errors and redirects.
	ginCtx.Status(http.StatusOK)
	svc.files.ServeHTTP(ginCtx.Writer, ginCtx.Request)
}

// openFixture opens a regular file read-only and returns its size.
func openFixture(fpath string) (*os.File, int64, error) {
	fd, err := os.Open(fpath)
	if err != nil {
		return nil, 0, err
	}
	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, 0, errors.Wrapf(err, "failed to stat %s", fpath)
	}
	if !fi.Mode().IsRegular() {
		fd.Close()
		return nil, 0, errors.Wrap(errNotRegularFile, fpath)
	}
	return fd, fi.Size(), nil
}

// fixtureError answers 404 with notFound if the fixture is missing and
// 500 for every other failure.
func fixtureError(ginCtx *gin.Context, fpath string, err error, notFound error) {
	if os.IsNotExist(errors.Cause(err)) {
		glog.Warningf("%s: %s", notFound, fpath)
		ginCtx.String(http.StatusNotFound, "%s", notFound)
		return
	}
	glog.Errorf("Can not open %s, caused by: %v", fpath, err)
	_ = ginCtx.Error(err)
	ginCtx.String(http.StatusInternalServerError, "%s", http.StatusText(http.StatusInternalServerError))
}

// chunkReader caps every read at size bytes, so the response is
// written in chunks of at most size bytes.
type chunkReader struct {
	r    io.Reader
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	return c.r.Read(p)
}
