package controlplane

import (
	"context"
	"strconv"

	"gorm.io/gorm"
)

// AppendSpendLogParams is everything one terminated request contributes to
// the append-only spend log and the budget counters it increments.
type AppendSpendLogParams struct {
	SpendLog SpendLog
	Spend    string // decimal(20,12)-precision string, added to each counter
}

// RecordSpend appends the SpendLog row and increments spend counters on
// the api_key, user, team, and org (whichever IDs are set) in a single
// transaction. When the store has a pool manager
// attached, the transaction retries on deadlocks and serialization
// failures instead of surfacing them as a failed request — four counter
// rows updated by concurrent requests make those transient by nature.
func (s *Store) RecordSpend(ctx context.Context, p AppendSpendLogParams) error {
	fn := func(tx *gorm.DB) error {
		if err := tx.Create(&p.SpendLog).Error; err != nil {
			return err
		}
		if p.SpendLog.APIKeyID != nil {
			if err := incrementSpend(tx, &APIKey{}, *p.SpendLog.APIKeyID, p.Spend); err != nil {
				return err
			}
		}
		if p.SpendLog.UserID != nil {
			if err := incrementSpend(tx, &User{}, *p.SpendLog.UserID, p.Spend); err != nil {
				return err
			}
		}
		if p.SpendLog.TeamID != nil {
			if err := incrementSpend(tx, &Team{}, *p.SpendLog.TeamID, p.Spend); err != nil {
				return err
			}
		}
		if p.SpendLog.OrgID != nil {
			if err := incrementSpend(tx, &Organization{}, *p.SpendLog.OrgID, p.Spend); err != nil {
				return err
			}
		}
		return nil
	}

	if s.pool != nil {
		return s.pool.WithTransactionRetry(ctx, 3, fn)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// incrementSpend increments a float64 "spend" counter column. The
// counters (api_keys/users/teams/organizations.spend) are a
// budget-admission approximation, not the authoritative cost record — that
// is SpendLog.Spend, kept as a full-precision decimal string.
func incrementSpend(tx *gorm.DB, model interface{}, id string, spendDelta string) error {
	delta, err := strconv.ParseFloat(spendDelta, 64)
	if err != nil {
		return err
	}
	return tx.Model(model).Where("id = ?", id).
		UpdateColumn("spend", gorm.Expr("spend + ?", delta)).Error
}
