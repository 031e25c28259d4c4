package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/szuecs/update-test-server/api"
	"github.com/szuecs/update-test-server/conf"
	"github.com/szuecs/update-test-server/updatecheck"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	//Buildstamp is used for storing the timestamp of the build
	Buildstamp string = "Not set"
	//Githash is used for storing the commit hash of the build
	Githash string = "Not set"
	// Version is used to store the tagged version of the build
	Version string = "Not set"
)

func main() {
	var (
		debug      = kingpin.Flag("debug", "enable debug mode").Default("false").Bool()
		configFile = kingpin.Flag("config", "YAML file overriding the defaults").ExistingFile()
		dir        = kingpin.Flag("dir", "Directory to serve, defaults to the directory of this binary").ExistingDir()
		profiling  = kingpin.Flag("profiling", "enable pprof endpoints").Bool()
		_          = kingpin.Command("version", "show version")
		serve      = kingpin.Command("serve", "serve the update fixtures on port 8080").Default()

		check        = kingpin.Command("check", "run the update check against a test server")
		checkURL     = check.Flag("url", "Version descriptor URL").Default(updatecheck.DefaultURL).String()
		checkCurrent = check.Flag("current", "Version reported as installed").Default("0.0.0").String()
		checkOut     = check.Flag("out", "Directory to download the installer to").Default(os.TempDir()).ExistingDir()
	)
	cmd := kingpin.Parse()
	initGlog(*debug)
	defer glog.Flush()

	cfg := conf.New()
	if *configFile != "" {
		var err error
		if cfg, err = conf.Load(*configFile); err != nil {
			glog.Exitf("Failed to load config: %v", err)
		}
	}
	if *debug {
		cfg.DebugEnabled = true
	}

	switch cmd {
	case "version":
		fmt.Printf(`%s Version: %s
================================
    Buildtime: %s
    GitHash: %s
`, path.Base(os.Args[0]), Version, Buildstamp, Githash)
		os.Exit(0)

	case serve.FullCommand():
		if *dir != "" {
			cfg.Dir = *dir
		}
		if *profiling {
			cfg.ProfilingEnabled = true
		}
		if !cfg.DebugEnabled {
			gin.SetMode(gin.ReleaseMode)
		}
		runServer(cfg)

	case check.FullCommand():
		if err := runCheck(*checkURL, *checkCurrent, *checkOut); err != nil {
			glog.Exitf("Update check failed: %v", err)
		}
	}
}

// initGlog routes glog to stderr, kingpin owns the command line.
func initGlog(debug bool) {
	flag.CommandLine.Parse([]string{})
	flag.Set("logtostderr", "true")
	if debug {
		flag.Set("v", "2")
	}
}

func runServer(cfg *conf.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := api.NewService(&api.ServiceConfig{Config: cfg})
	if msg, code := startupFailure(svc.Run(ctx), cfg.Port); code != 0 {
		glog.Exit(msg)
	}
}

// startupFailure returns the operator message and exit code for the
// error Run returned, exit code 0 means a clean stop.
func startupFailure(err error, port int) (string, int) {
	switch {
	case err == nil:
		return "", 0
	case errors.Cause(err) == api.ErrAddressInUse:
		return fmt.Sprintf("Port %d is already in use. Stop other servers or use a different port.", port), 1
	default:
		return fmt.Sprintf("Error starting server: %v", err), 1
	}
}

func runCheck(url, current, out string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c := updatecheck.New(url, current)
	d, newer, err := c.Check(ctx)
	if err != nil {
		return err
	}
	if !newer {
		glog.Infof("No update available, %s is up to date (latest %s)", current, d.Version)
		return nil
	}
	glog.Infof("Update available: %s", d.Version)
	if d.UpdateMessage != "" {
		glog.Info(d.UpdateMessage)
	}
	for _, entry := range d.Changelog {
		glog.Infof("  - %s", entry)
	}

	dir, err := ioutil.TempDir(out, "update-check")
	if err != nil {
		return errors.Wrap(err, "failed to create download directory")
	}
	fpath, err := c.Download(ctx, d, dir)
	if err != nil {
		return err
	}
	fmt.Println(fpath)
	return nil
}
