package repository

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	hserrors "github.com/superkabe/healthstack/errors"
)

// notFound maps gorm's missing-row error to the entity sentinel.
func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

var errVersionConflict = hserrors.ErrVersionConflict
