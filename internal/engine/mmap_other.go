//go:build !unix

package engine

import (
	"os"

	"github.com/cassavanet/cassavanet/internal/errors"
)

var errNoMmap = errors.NewStd("memory mapping not supported on this platform")

func mapFile(*os.File, int64) ([]byte, func() error, error) {
	return nil, nil, errNoMmap
}
