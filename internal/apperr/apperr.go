// README: Error kinds shared by every module; callers match with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrConflict          = errors.New("conflict")
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrInternal          = errors.New("internal error")
)
