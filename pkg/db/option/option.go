// Package option provides composable query options for the generic repository.
// Active is the single soft-delete visibility predicate used by every ledger
// query; per-query inline deleted_at filters are not allowed.
package option

import "gorm.io/gorm"

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type optionFunc func(db *gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// Active restricts a query to rows that have not been soft-deleted.
func Active() QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("deleted_at IS NULL")
	})
}

func IsNull(field string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(field + " IS NULL")
	})
}

func OrderBy(expr string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(expr)
	})
}
