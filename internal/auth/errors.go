package auth

import (
	"errors"
	"net/http"

	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// Sentinels callers match with errors.Is. Every error returned by Manager
// that is not a plain persistence failure wraps one of these.
var (
	ErrOfflineAuthUnavailable = errors.New("offline sign-in unavailable")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrNeedsConnectivity      = errors.New("connectivity required")
	ErrReauthRequired         = errors.New("re-authentication required")
	ErrCorruptedState         = errors.New("local auth state corrupted")
	ErrNotSignedIn            = errors.New("not signed in")
)

func offlineUnavailable(reason string) error {
	return &apperrors.AppError{
		Code:    "OFFLINE_AUTH_UNAVAILABLE",
		Message: "offline sign-in unavailable: " + reason,
		Status:  http.StatusUnauthorized,
		Err:     ErrOfflineAuthUnavailable,
	}
}

func invalidCredentials() error {
	return &apperrors.AppError{
		Code:    "INVALID_CREDENTIALS",
		Message: "invalid email or password",
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidCredentials,
	}
}

func needsConnectivity(cause error) error {
	return &apperrors.AppError{
		Code:    "NEEDS_CONNECTIVITY",
		Message: "sign in online at least once on this device",
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrNeedsConnectivity, cause),
	}
}

func reauthRequired() error {
	return &apperrors.AppError{
		Code:    "REAUTH_REQUIRED",
		Message: "session expired, sign in again",
		Status:  http.StatusUnauthorized,
		Err:     ErrReauthRequired,
	}
}

func notSignedIn() error {
	return &apperrors.AppError{
		Code:    "NOT_SIGNED_IN",
		Message: "no active session",
		Status:  http.StatusUnauthorized,
		Err:     ErrNotSignedIn,
	}
}

func corrupted(cause error) error {
	return &apperrors.AppError{
		Code:    "AUTH_STATE_CORRUPTED",
		Message: "stored sign-in data is unreadable, sign in online",
		Status:  http.StatusInternalServerError,
		Err:     errors.Join(ErrCorruptedState, cause),
	}
}
