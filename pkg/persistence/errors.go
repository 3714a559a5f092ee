package persistence

import (
	"errors"
	"regexp"

	"gorm.io/gorm"
)

// ErrDuplicateTransaction is returned when a wallet's transaction was already stored
var ErrDuplicateTransaction = errors.New("transaction already indexed")

var duplicateKeyPattern = regexp.MustCompile(`duplicate key value violates unique constraint`)

// IsDuplicateKeyError reports whether err is a unique constraint violation
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return duplicateKeyPattern.MatchString(err.Error())
}
