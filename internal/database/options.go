package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tracksync/tracksync/domain/store"
)

// ApplyOptions builds a store.Query from the given options and applies
// it to a GORM session.
func ApplyOptions(db *gorm.DB, options ...store.Option) *gorm.DB {
	q := store.Build(options...)

	db = ApplyConditions(db, options...)

	for _, ord := range q.Orders() {
		dir := "ASC"
		if !ord.Ascending() {
			dir = "DESC"
		}
		db = db.Order(fmt.Sprintf("%s %s", ord.Field(), dir))
	}

	if q.LimitValue() > 0 {
		db = db.Limit(q.LimitValue())
	}
	if q.OffsetValue() > 0 {
		db = db.Offset(q.OffsetValue())
	}

	return db
}

// ApplyConditions applies only WHERE conditions (no limit/offset/order),
// for COUNT and DELETE queries.
func ApplyConditions(db *gorm.DB, options ...store.Option) *gorm.DB {
	q := store.Build(options...)

	for _, cond := range q.Conditions() {
		switch cond.Compare() {
		case store.CompareIn:
			db = db.Where(fmt.Sprintf("%s IN ?", cond.Field()), cond.Value())
		case store.CompareGreaterThan:
			db = db.Where(fmt.Sprintf("%s > ?", cond.Field()), cond.Value())
		case store.CompareGreaterOrEqual:
			db = db.Where(fmt.Sprintf("%s >= ?", cond.Field()), cond.Value())
		case store.CompareLessThan:
			db = db.Where(fmt.Sprintf("%s < ?", cond.Field()), cond.Value())
		case store.CompareLessOrEqual:
			db = db.Where(fmt.Sprintf("%s <= ?", cond.Field()), cond.Value())
		default:
			db = db.Where(fmt.Sprintf("%s = ?", cond.Field()), cond.Value())
		}
	}

	return db
}
