//go:build !unix

package bluez

import (
	"errors"
	"os"
)

func socketFile(int, string) (*os.File, error) {
	return nil, errors.New("bluez: descriptor passing is not supported on this platform")
}
