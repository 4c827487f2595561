package httpx

import (
	"net/http"

	apperrors "github.com/jobmill/jobmill/internal/errors"
)

// statusForCode maps application error codes onto HTTP statuses. Anything
// unmapped is a 500.
func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeForeignKey:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// WriteAppError renders a service error as a JSON error response using the
// AppError code carried in the chain.
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	errCode := string(code)
	if errCode == "" {
		errCode = string(apperrors.ErrCodeInternal)
	}
	WriteError(w, ErrorParams{Code: statusForCode(code), ErrCode: errCode, Err: err})
}
