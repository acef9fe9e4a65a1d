// Package misc holds small process-level helpers used by the entry points.
package misc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// ErrConfigExists is returned when the destination already exists and
// overwriting was not requested.
var ErrConfigExists = errors.New("misc: config file already exists")

// CopyConfigTemplate writes the example configuration at src to dst, creating
// parent directories as needed. An existing dst is only replaced when overwrite
// is true.
func CopyConfigTemplate(src, dst string, overwrite bool) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("misc: open template: %w", err)
	}
	defer func() {
		if errClose := in.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close config template")
		}
	}()

	if err = os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	out, err := os.OpenFile(dst, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrConfigExists, dst)
		}
		return err
	}
	defer func() {
		if errClose := out.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close config file")
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	log.Infof("wrote config template to %s", dst)
	return out.Sync()
}
