package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultStoreTimeout bounds an operation's store round-trips when the caller's
// context carries no deadline of its own.
const DefaultStoreTimeout = 5 * time.Second

// Base carries what every service shares: the store handle, logger, metrics
// and clock. It holds no domain state.
type Base struct {
	DB      *gorm.DB
	Log     logrus.FieldLogger
	Metrics *Metrics
	Now     func() time.Time
	Timeout time.Duration
}

// NewBase wires a Base with the wall clock and default timeout.
func NewBase(db *gorm.DB, log logrus.FieldLogger, metrics *Metrics) *Base {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Base{
		DB:      db,
		Log:     log,
		Metrics: metrics,
		Now:     func() time.Time { return time.Now().UTC() },
		Timeout: DefaultStoreTimeout,
	}
}

// session returns a DB bound to ctx, adding the default deadline when ctx has
// none. The returned cancel func must always be called.
func (b *Base) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok && b.Timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, b.Timeout)
		return b.DB.WithContext(ctx), cancel
	}
	return b.DB.WithContext(ctx), func() {}
}

// inTx runs fn in a single transaction bound to ctx. Errors are classified
// with storeErr.
func (b *Base) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	db, cancel := b.session(ctx)
	defer cancel()
	return storeErr(op, db.Transaction(fn))
}

// guard is an extra predicate for a conditional transition.
type guard struct {
	query string
	args  []interface{}
}

func where(query string, args ...interface{}) guard {
	return guard{query: query, args: args}
}

// transition applies updates to the row with the given id only if its status
// is still from (and every guard holds). It reports whether the row matched.
// A false result is a definitive precondition failure, not something to retry.
func transition(tx *gorm.DB, model interface{}, id string, from interface{}, updates map[string]interface{}, guards ...guard) (bool, error) {
	q := tx.Model(model).Where("id = ? AND status = ?", id, from)
	for _, g := range guards {
		q = q.Where(g.query, g.args...)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// createOrIgnore inserts row unless a row with the same unique key exists, in
// which case nothing happens. It reports whether the row was created.
func createOrIgnore(tx *gorm.DB, row interface{}) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// increment adds delta to an integer column.
func increment(tx *gorm.DB, model interface{}, id, column string, delta int64) error {
	return tx.Model(model).Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
}

// today is the calendar day (UTC) used as the daily grant key.
func (b *Base) today() string {
	return b.Now().UTC().Format("2006-01-02")
}
