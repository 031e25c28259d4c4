package api

import (
	"syscall"

	"github.com/pkg/errors"
)

// WSAEADDRINUSE, winsock does not report the POSIX errno.
const wsaeaddrinuse = syscall.Errno(10048)

func isAddrInUse(err error) bool {
	return errors.Is(err, wsaeaddrinuse) || errors.Is(err, syscall.EADDRINUSE)
}
