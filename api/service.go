package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/DeanThompson/ginpprof"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	ginglog "github.com/szuecs/gin-glog"
	"github.com/szuecs/update-test-server/conf"
)

const (
	accessLogPrefix = "[TEST SERVER]"
	shutdownTimeout = 5 * time.Second
)

// ErrAddressInUse is the cause of Listen errors when another process
// already holds the port.
var ErrAddressInUse = errors.New("address already in use")

// ServiceConfig contains everything configurable for the service
// endpoint.
type ServiceConfig struct {
	Config *conf.Config
	// AccessLog receives one line per request, os.Stdout if nil.
	AccessLog io.Writer
}

// Service is the static fixture server.
type Service struct {
	cfg    *conf.Config
	router *gin.Engine
	files  http.Handler
}

// NewService creates the router and registers the fixture routes.
func NewService(config *ServiceConfig) *Service {
	accessLog := config.AccessLog
	if accessLog == nil {
		accessLog = os.Stdout
	}
	svc := &Service{
		cfg:   config.Config,
		files: http.FileServer(http.Dir(config.Config.Dir)),
	}

	// Middleware
	router := gin.New()
	// "/version.json/" is not a fixture, it belongs to the fallback.
	router.RedirectTrailingSlash = false
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: accessLogFormatter,
		Output:    accessLog,
	}))
	if svc.cfg.DebugEnabled {
		router.Use(ginglog.Logger(svc.cfg.LogFlushInterval))
	}
	router.Use(gin.Recovery())

	//
	//  Handlers
	//
	fixtures := router.Group("", allowAnyOrigin())
	fixtures.GET(VersionPath, svc.VersionHandler)
	fixtures.GET(InstallerPath, svc.InstallerHandler)
	router.NoRoute(svc.FallbackHandler)

	if svc.cfg.ProfilingEnabled {
		ginpprof.Wrapper(router)
	}

	svc.router = router
	return svc
}

// Handler returns the http.Handler serving all routes.
func (svc *Service) Handler() http.Handler {
	return svc.router
}

// Listen binds the configured address. If the port is taken the
// returned error has ErrAddressInUse as its cause.
func (svc *Service) Listen() (net.Listener, error) {
	addr := svc.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if isAddrInUse(err) {
			return nil, errors.Wrapf(ErrAddressInUse, "can not listen on %s", addr)
		}
		return nil, errors.Wrapf(err, "can not listen on %s", addr)
	}
	return ln, nil
}

// Run is the main function of the server. It binds the port, logs
// the startup diagnostics and serves until ctx is done.
func (svc *Service) Run(ctx context.Context) error {
	if err := svc.cfg.Validate(); err != nil {
		return err
	}
	ln, err := svc.Listen()
	if err != nil {
		return err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	for _, line := range svc.Diagnostics(port) {
		glog.Info(line)
	}
	return svc.Serve(ctx, ln)
}

// Serve answers requests on ln until ctx is done, then shuts the
// server down and waits for in-flight requests.
func (svc *Service) Serve(ctx context.Context, ln net.Listener) error {
	serve := &http.Server{
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- serve.Serve(ln)
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "can not serve HTTP")
	case <-ctx.Done():
	}

	glog.Info("Shutdown..")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := serve.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down")
	}
	if err := <-errc; err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "can not serve HTTP")
	}
	glog.Info("Test server stopped")
	return nil
}

// Diagnostics returns the startup lines for a server bound to port.
func (svc *Service) Diagnostics(port int) []string {
	lines := []string{
		fmt.Sprintf("Starting update test server on port %d", port),
		fmt.Sprintf("Serving from: %s", absPath(svc.cfg.Dir)),
		"Test endpoints:",
		fmt.Sprintf("   Version: http://localhost:%d%s", port, VersionPath),
		fmt.Sprintf("   Installer: http://localhost:%d%s", port, InstallerPath),
		"Press Ctrl+C to stop the server",
	}
	installer := absPath(svc.cfg.InstallerFilePath())
	if _, err := os.Stat(installer); err == nil {
		lines = append(lines, fmt.Sprintf("Installer found: %s", installer))
	} else {
		lines = append(lines,
			fmt.Sprintf("Installer not found: %s", installer),
			`   Run 'installer\build_installer_inno.bat' first`,
		)
	}
	return lines
}

func accessLogFormatter(param gin.LogFormatterParams) string {
	path, proto := param.Path, "HTTP/1.1"
	if param.Request != nil {
		path = param.Request.URL.Path
		proto = param.Request.Proto
	}
	return fmt.Sprintf("%s %s - \"%s %s %s\" %d %d %v route=%s\n",
		accessLogPrefix,
		param.ClientIP,
		param.Method,
		param.Path,
		proto,
		param.StatusCode,
		param.BodySize,
		param.Latency,
		MatchRoute(path),
	)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
