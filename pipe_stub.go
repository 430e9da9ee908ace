//go:build !unix

package main

import (
	"errors"
	"os"

	"github.com/rs/zerolog"
)

func createPipe(_ zerolog.Logger, _ string) (*os.File, error) {
	return nil, errors.New("named pipes are not supported on this platform")
}

func removePipe(_ string) {}
