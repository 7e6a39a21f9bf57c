package fsutil

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/liqiongyu/agentpack/internal/apperr"
)

// ClassifyIOError maps a filesystem error onto the stable I/O code
// vocabulary. NotFound is intentionally not mapped here; callers that can
// recover from it check with errors.Is before classifying.
func ClassifyIOError(err error, path string) *apperr.Error {
	code := apperr.CodeIOFailed
	switch {
	case errors.Is(err, fs.ErrPermission):
		code = apperr.CodeIOPermissionDenied
	case errors.Is(err, syscall.ENAMETOOLONG):
		code = apperr.CodeIOPathTooLong
	case errors.Is(err, syscall.EINVAL), errors.Is(err, syscall.ENOTDIR):
		code = apperr.CodeIOInvalidPath
	}
	return apperr.New(code, err.Error()).WithDetail("path", ToPosix(path))
}
