//go:build !windows

package api

import (
	"syscall"

	"github.com/pkg/errors"
)

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
