package model

import (
	"time"

	"github.com/google/uuid"
)

// IdentityStatus tracks an identity's redemptions
type IdentityStatus struct {
	Identity       string    `db:"identity" json:"identity"`
	RedeemCount    int       `db:"redeem_count" json:"count"`
	LastRedeemedAt time.Time `db:"last_redeemed_at" json:"last"`
	BatchIndex     *int      `db:"batch_index" json:"index,omitempty"`
}

// HasBatch reports whether the identity currently holds a batch
func (s *IdentityStatus) HasBatch() bool {
	return s != nil && s.BatchIndex != nil
}

// Batch is a fixed-size slice of the phone pool
type Batch struct {
	Index  int      `db:"batch_index" json:"index"`
	Phones []string `db:"phones" json:"phones"`
}

// Contains reports whether phone is part of the batch
func (b Batch) Contains(phone string) bool {
	for _, p := range b.Phones {
		if p == phone {
			return true
		}
	}
	return false
}

// UploadEntry records one converted lead reported by an identity
type UploadEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Identity   string    `db:"identity" json:"identity"`
	Phone      string    `db:"phone" json:"phone"`
	UploadedAt time.Time `db:"uploaded_at" json:"time"`
}
