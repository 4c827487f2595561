package data

import (
	"fmt"

	apperrors "github.com/jobmill/jobmill/internal/errors"
)

// mapRepoErr converts driver errors shared by every repository in this
// package into typed application errors. Errors the classifier does not
// recognize keep their identity, wrapped with the failing operation.
func mapRepoErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if mapped := apperrors.MapDBError(err); mapped != err {
		return mapped
	}
	return fmt.Errorf("%s: %w", op, err)
}
