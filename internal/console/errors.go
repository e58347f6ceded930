package console

import (
	"errors"

	"github.com/unnet/isp-console/internal/apiclient"
	"github.com/unnet/isp-console/internal/lockout"
	"github.com/unnet/isp-console/internal/plan/entity"
)

// The four failure kinds surfaced to the operator. None of them ends the
// process; each returns control to an interactive state.
var (
	ErrInvalidCredentials = lockout.ErrInvalidCredentials
	ErrAccountLocked      = lockout.ErrAccountLocked
	ErrNetworkFailure     = apiclient.ErrRequestFailed
	ErrValidationFailure  = entity.ErrValidation
)

var (
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrLoading         = errors.New("data is still loading")
	ErrNotConfirmed    = errors.New("deletion not confirmed")
	ErrUnknownPackage  = errors.New("no package with that id")
)
