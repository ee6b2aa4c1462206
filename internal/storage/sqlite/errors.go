package sqlite

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/govdecisions/backend/internal/storage"
)

// classify maps driver errors onto the storage sentinels so callers can use
// errors.Is instead of inspecting sqlite3 codes.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", storage.ErrConstraint, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr:
			return fmt.Errorf("%w: %v", storage.ErrTransient, err)
		}
	}
	return err
}
