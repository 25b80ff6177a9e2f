package services

import (
	"errors"

	"github.com/ropable/prs/pkg/apperrors"
)

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

func isLookupFailure(err error) bool {
	return errors.Is(err, apperrors.ErrLookup)
}

func isParseFailure(err error) bool {
	return errors.Is(err, apperrors.ErrParse)
}

func isGeometryFailure(err error) bool {
	return errors.Is(err, apperrors.ErrGeometry)
}
