package ledger

import "errors"

var (
	ErrNoPaidRecord        = errors.New("no paid ledger record")
	ErrDuplicateRecord     = errors.New("ledger record already exists")
	ErrFailedToAppend      = errors.New("failed to append ledger record")
	ErrFailedToListRecords = errors.New("failed to list ledger records")
)
