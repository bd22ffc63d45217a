package coverage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/pkg/dateutil"
)

// Network is a provider's contractual tier relative to a policy.
type Network string

const (
	InNetwork  Network = "IN"
	OutNetwork Network = "OUT"
)

type PlanType string

const (
	PlanHDHP     PlanType = "HDHP"
	PlanPPO      PlanType = "PPO"
	PlanHMO      PlanType = "HMO"
	PlanMedicare PlanType = "MEDICARE"
	PlanMedicaid PlanType = "MEDICAID"
)

// Category groups service types; GENERAL is the fallback rule category.
type Category string

const (
	CategoryGeneral    Category = "GENERAL"
	CategoryEmergency  Category = "EMERGENCY"
	CategoryPharmacy   Category = "PHARMACY"
	CategorySpecialist Category = "SPECIALIST"
	CategoryDiagnostic Category = "DIAGNOSTIC"
	CategoryCustom     Category = "CUSTOM"
)

type Policy struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	MemberID       uuid.UUID       `db:"member_id" json:"member_id"`
	ProviderName   string          `db:"provider_name" json:"provider_name"`
	PolicyNumber   string          `db:"policy_number" json:"policy_number"`
	PlanType       PlanType        `db:"plan_type" json:"plan_type"`
	EffectiveDate  time.Time       `db:"effective_date" json:"effective_date"`
	ExpirationDate time.Time       `db:"expiration_date" json:"expiration_date"`
	IsPrimary      bool            `db:"is_primary" json:"is_primary"`
	Deductible     decimal.Decimal `db:"deductible" json:"deductible"`
	OutOfPocketMax decimal.Decimal `db:"out_of_pocket_max" json:"out_of_pocket_max"`
	Accumulated    decimal.Decimal `db:"accumulated" json:"accumulated"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// ActiveOn reports whether the policy covers the given calendar day, both
// ends inclusive.
func (p *Policy) ActiveOn(day time.Time) bool {
	return dateutil.Within(day, &p.EffectiveDate, &p.ExpirationDate)
}

// Rule states how a policy pays for a service within one network tier.
// A nil CoveragePercent means the rule pays nothing beyond the copay.
type Rule struct {
	ID              uuid.UUID           `db:"id" json:"id"`
	PolicyID        uuid.UUID           `db:"policy_id" json:"policy_id"`
	ServiceType     string              `db:"service_type" json:"service_type"`
	Category        Category            `db:"category" json:"category"`
	CoveragePercent decimal.NullDecimal `db:"coverage_percent" json:"coverage_percent"`
	Copay           decimal.NullDecimal `db:"copay" json:"copay"`
	Network         Network             `db:"network" json:"network"`
	RequiresPreauth bool                `db:"requires_preauth" json:"requires_preauth"`
}

type NetworkContract struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PolicyID      uuid.UUID  `db:"policy_id" json:"policy_id"`
	ProviderID    string     `db:"provider_id" json:"provider_id"`
	ProviderName  string     `db:"provider_name" json:"provider_name"`
	Status        Network    `db:"status" json:"status"`
	ContractStart time.Time  `db:"contract_start" json:"contract_start"`
	ContractEnd   *time.Time `db:"contract_end" json:"contract_end,omitempty"`
}

// Claim is one service to adjudicate.
type Claim struct {
	MemberID     uuid.UUID       `json:"member_id"`
	ServiceType  string          `json:"service_type"`
	Category     Category        `json:"service_category,omitempty"`
	ProviderID   string          `json:"provider_id"`
	ServiceDate  time.Time       `json:"service_date"`
	BilledAmount decimal.Decimal `json:"billed_amount"`
}

// PolicyResult is one policy's contribution to a claim. TotalCovered is
// what the insurer pays; deductible dollars are patient-paid.
type PolicyResult struct {
	PolicyID              uuid.UUID       `json:"policy_id"`
	ProviderName          string          `json:"provider_name"`
	IsPrimary             bool            `json:"is_primary"`
	Network               Network         `json:"network_status"`
	RuleID                *uuid.UUID      `json:"rule_id,omitempty"`
	RequiresPreauth       bool            `json:"requires_preauth"`
	DeductibleApplied     decimal.Decimal `json:"deductible_applied"`
	CopayApplied          decimal.Decimal `json:"copay_applied"`
	CoinsuranceApplied    decimal.Decimal `json:"coinsurance_applied"`
	PatientShare          decimal.Decimal `json:"patient_share"`
	PatientResponsibility decimal.Decimal `json:"patient_responsibility"`
	TotalCovered          decimal.Decimal `json:"total_covered"`
	RemainingDeductible   decimal.Decimal `json:"remaining_deductible"`
	AccumulatedBefore     decimal.Decimal `json:"accumulated_before"`
	AccumulatedAfter      decimal.Decimal `json:"accumulated_after"`
}

type Result struct {
	TotalBilled           decimal.Decimal `json:"total_billed"`
	Coverages             []PolicyResult  `json:"coverages"`
	TotalCovered          decimal.Decimal `json:"total_covered"`
	PatientResponsibility decimal.Decimal `json:"patient_responsibility"`
}

// PayingPolicy returns the first policy that paid anything on the claim.
func (r *Result) PayingPolicy() *PolicyResult {
	for i := range r.Coverages {
		if r.Coverages[i].TotalCovered.IsPositive() {
			return &r.Coverages[i]
		}
	}
	return nil
}

// RequiresPreauth reports whether any applied rule needs prior authorization.
func (r *Result) RequiresPreauth() bool {
	for _, c := range r.Coverages {
		if c.RequiresPreauth {
			return true
		}
	}
	return false
}
