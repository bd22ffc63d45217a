package account

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Relationship is a member's role within the family account.
type Relationship string

const (
	RelationshipPrimary Relationship = "PRIMARY"
	RelationshipSpouse  Relationship = "SPOUSE"
	RelationshipChild   Relationship = "CHILD"
	RelationshipParent  Relationship = "PARENT"
	RelationshipOther   Relationship = "OTHER"
)

// IsAdult reports whether the relationship takes part in the default split.
func (r Relationship) IsAdult() bool {
	return r == RelationshipPrimary || r == RelationshipSpouse
}

func (r Relationship) Valid() bool {
	switch r {
	case RelationshipPrimary, RelationshipSpouse, RelationshipChild, RelationshipParent, RelationshipOther:
		return true
	}
	return false
}

type AccessLevel string

const (
	AccessAdmin       AccessLevel = "ADMIN"
	AccessContributor AccessLevel = "CONTRIBUTOR"
	AccessViewer      AccessLevel = "VIEWER"
)

// SplitMethod selects how a bill's personal responsibility is allocated.
// Any value other than EQUAL or PERCENTAGE falls back to the adults-only split.
type SplitMethod string

const (
	SplitEqual      SplitMethod = "EQUAL"
	SplitPercentage SplitMethod = "PERCENTAGE"
	SplitDefault    SplitMethod = "DEFAULT"
)

// SplitRules is the account's allocation policy. Percentages are keyed by
// member id in string form.
type SplitRules struct {
	Method      SplitMethod                `json:"method"`
	Percentages map[string]decimal.Decimal `json:"percentages,omitempty"`
}

type Account struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	SplitRules SplitRules `db:"split_rules" json:"split_rules"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

type Member struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	AccountID    uuid.UUID    `db:"account_id" json:"account_id"`
	Name         string       `db:"name" json:"name"`
	Email        *string      `db:"email" json:"email,omitempty"`
	Relationship Relationship `db:"relationship" json:"relationship"`
	AccessLevel  AccessLevel  `db:"access_level" json:"access_level"`
	Active       bool         `db:"active" json:"active"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}
