package sandbox

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Fixture is a portable description of accounts, coverage and bills. Members,
// policies and line items refer to each other by fixture-local keys.
type Fixture struct {
	Accounts []AccountFixture `json:"accounts"`
}

type AccountFixture struct {
	Name string `json:"name"`
	// SplitMethod is EQUAL, PERCENTAGE or DEFAULT. Percentages are keyed by
	// member key.
	SplitMethod string                     `json:"split_method,omitempty"`
	Percentages map[string]decimal.Decimal `json:"percentages,omitempty"`
	Members     []MemberFixture            `json:"members"`
	Policies    []PolicyFixture            `json:"policies,omitempty"`
	Bills       []BillFixture              `json:"bills,omitempty"`
}

type MemberFixture struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	Email        *string `json:"email,omitempty"`
	Relationship string  `json:"relationship"`
	AccessLevel  string  `json:"access_level,omitempty"`
	Inactive     bool    `json:"inactive,omitempty"`
}

type PolicyFixture struct {
	Member         string            `json:"member"`
	ProviderName   string            `json:"provider_name"`
	PolicyNumber   string            `json:"policy_number"`
	PlanType       string            `json:"plan_type"`
	EffectiveDate  string            `json:"effective_date"`
	ExpirationDate string            `json:"expiration_date"`
	Primary        bool              `json:"primary,omitempty"`
	Deductible     decimal.Decimal   `json:"deductible"`
	OutOfPocketMax decimal.Decimal   `json:"out_of_pocket_max"`
	Accumulated    decimal.Decimal   `json:"accumulated"`
	Rules          []RuleFixture     `json:"rules,omitempty"`
	Contracts      []ContractFixture `json:"contracts,omitempty"`
}

type RuleFixture struct {
	ServiceType     string              `json:"service_type"`
	Category        string              `json:"category,omitempty"`
	CoveragePercent decimal.NullDecimal `json:"coverage_percent"`
	Copay           decimal.NullDecimal `json:"copay"`
	Network         string              `json:"network,omitempty"`
	RequiresPreauth bool                `json:"requires_preauth,omitempty"`
}

type ContractFixture struct {
	ProviderID    string `json:"provider_id"`
	ProviderName  string `json:"provider_name,omitempty"`
	Status        string `json:"status"`
	ContractStart string `json:"contract_start"`
	ContractEnd   string `json:"contract_end,omitempty"`
}

type BillFixture struct {
	ProviderName string            `json:"provider_name"`
	ProviderID   string            `json:"provider_id"`
	ServiceDate  string            `json:"service_date"`
	DueDate      string            `json:"due_date,omitempty"`
	Items        []LineItemFixture `json:"items"`
}

type LineItemFixture struct {
	Member        string          `json:"member"`
	ProcedureCode string          `json:"procedure_code"`
	Description   string          `json:"description,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// Decode reads a JSON fixture.
func Decode(r io.Reader) (*Fixture, error) {
	var f Fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &f, nil
}

// ReadFile decodes the fixture stored at path.
func ReadFile(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()
	return Decode(file)
}
