package sandbox

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"
)

// SeedConfig controls the volume and shape of generated synthetic data.
type SeedConfig struct {
	AccountCount    int   `json:"account_count"`
	ChildrenMax     int   `json:"children_max"`
	BillsPerAccount int   `json:"bills_per_account"`
	ItemsPerBill    int   `json:"items_per_bill"`
	Year            int   `json:"year"`
	Seed            int64 `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		AccountCount:    10,
		ChildrenMax:     3,
		BillsPerAccount: 3,
		ItemsPerBill:    3,
		Year:            2024,
	}
}

type procedure struct {
	code        string
	description string
	minCents    int
	maxCents    int
}

var (
	familyNames = []string{"Rivera", "Okafor", "Nguyen", "Schmidt", "Patel", "Kowalski", "Haddad", "Tanaka", "Moreau", "Lindqvist"}
	givenNames  = []string{"Ana", "Luis", "Sofia", "Mateo", "Priya", "Chen", "Amara", "Jonas", "Leila", "Kenji", "Ingrid", "Omar"}
	insurers    = []string{"Acme Health", "BlueRiver Mutual", "Northstar Care", "Evergreen Assurance"}
	providers   = []struct{ id, name string }{
		{"1234567890", "City Clinic"},
		{"1629384756", "Lakeside Pediatrics"},
		{"1987654321", "Summit Imaging"},
		{"1555012345", "Harbor Urgent Care"},
	}
	procedures = []procedure{
		{"OFFICE_VISIT", "Established patient visit", 9000, 25000},
		{"LAB_PANEL", "Comprehensive metabolic panel", 4000, 18000},
		{"XRAY", "Chest radiograph", 12000, 40000},
		{"PHYSICAL_THERAPY", "Therapeutic exercise session", 8000, 20000},
		{"URGENT_CARE", "Urgent care visit", 15000, 45000},
		{"MRI", "MRI without contrast", 90000, 250000},
	}
	planTypes = []string{"PPO", "HMO", "HDHP"}
)

// DataGenerator produces deterministic synthetic families.
type DataGenerator struct {
	rng *rand.Rand
	seq int
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// zero a fixed default is used.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = 20240101
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) cents(min, max int) decimal.Decimal {
	return decimal.New(int64(min+g.rng.Intn(max-min+1)), -2)
}

func (g *DataGenerator) date(year int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, 1+g.rng.Intn(12), 1+g.rng.Intn(28))
}

// Generate builds a fixture according to cfg.
func (g *DataGenerator) Generate(cfg SeedConfig) *Fixture {
	if cfg.Year == 0 {
		cfg.Year = DefaultSeedConfig().Year
	}
	f := &Fixture{Accounts: make([]AccountFixture, 0, cfg.AccountCount)}
	for i := 0; i < cfg.AccountCount; i++ {
		f.Accounts = append(f.Accounts, g.GenerateFamily(cfg))
	}
	return f
}

// GenerateFamily produces one account: a primary holder, usually a spouse,
// and up to cfg.ChildrenMax children. Adults carry their own policy and
// children ride on the primary holder's insurer with a separate policy.
func (g *DataGenerator) GenerateFamily(cfg SeedConfig) AccountFixture {
	g.seq++
	family := g.pick(familyNames)
	af := AccountFixture{
		Name:        fmt.Sprintf("%s household %d", family, g.seq),
		SplitMethod: "DEFAULT",
	}

	addMember := func(rel string) string {
		key := fmt.Sprintf("%s-%d", strings.ToLower(rel), len(af.Members)+1)
		given := g.pick(givenNames)
		email := fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(given), strings.ToLower(family), g.seq)
		mf := MemberFixture{Key: key, Name: given + " " + family, Relationship: rel}
		if rel != "CHILD" {
			mf.Email = &email
			mf.AccessLevel = "CONTRIBUTOR"
		}
		af.Members = append(af.Members, mf)
		return key
	}

	primary := addMember("PRIMARY")
	af.Members[0].AccessLevel = "ADMIN"
	adults := []string{primary}
	if g.rng.Intn(4) > 0 {
		adults = append(adults, addMember("SPOUSE"))
	}
	children := 0
	if cfg.ChildrenMax > 0 {
		children = g.rng.Intn(cfg.ChildrenMax + 1)
	}
	for c := 0; c < children; c++ {
		addMember("CHILD")
	}

	if g.rng.Intn(3) == 0 {
		af.SplitMethod = "EQUAL"
	}

	insurer := g.pick(insurers)
	for _, mf := range af.Members {
		af.Policies = append(af.Policies, g.policy(cfg.Year, mf.Key, insurer, mf.Relationship != "SPOUSE"))
	}

	all := make([]string, 0, len(af.Members))
	for _, mf := range af.Members {
		all = append(all, mf.Key)
	}
	for b := 0; b < cfg.BillsPerAccount; b++ {
		af.Bills = append(af.Bills, g.bill(cfg, all))
	}
	return af
}

func (g *DataGenerator) policy(year int, member, insurer string, sameInsurer bool) PolicyFixture {
	if !sameInsurer {
		insurer = g.pick(insurers)
	}
	deductible := decimal.NewFromInt(int64(250 * (1 + g.rng.Intn(8))))
	pf := PolicyFixture{
		Member:         member,
		ProviderName:   insurer,
		PolicyNumber:   fmt.Sprintf("%s-%06d", strings.ToUpper(insurer[:3]), g.rng.Intn(1000000)),
		PlanType:       g.pick(planTypes),
		EffectiveDate:  fmt.Sprintf("%04d-01-01", year),
		ExpirationDate: fmt.Sprintf("%04d-12-31", year),
		Primary:        true,
		Deductible:     deductible,
		OutOfPocketMax: deductible.Mul(decimal.NewFromInt(int64(3 + g.rng.Intn(4)))),
		Accumulated:    decimal.Zero,
		Rules: []RuleFixture{
			{ServiceType: "GENERAL", Category: "GENERAL", CoveragePercent: pct(70 + 5*g.rng.Intn(5))},
			{ServiceType: "GENERAL", Category: "GENERAL", CoveragePercent: pct(50), Network: "OUT"},
			{ServiceType: "OFFICE_VISIT", CoveragePercent: pct(80), Copay: copayOf(25 + 5*g.rng.Intn(4))},
			{ServiceType: "MRI", Category: "DIAGNOSTIC", CoveragePercent: pct(70), RequiresPreauth: true},
		},
	}
	for _, p := range providers {
		if g.rng.Intn(4) == 0 {
			continue
		}
		pf.Contracts = append(pf.Contracts, ContractFixture{
			ProviderID:    p.id,
			ProviderName:  p.name,
			Status:        "IN",
			ContractStart: pf.EffectiveDate,
		})
	}
	return pf
}

func (g *DataGenerator) bill(cfg SeedConfig, members []string) BillFixture {
	p := providers[g.rng.Intn(len(providers))]
	bf := BillFixture{
		ProviderName: p.name,
		ProviderID:   p.id,
		ServiceDate:  g.date(cfg.Year),
	}
	items := cfg.ItemsPerBill
	if items <= 0 {
		items = 1
	}
	for i := 0; i < items; i++ {
		proc := procedures[g.rng.Intn(len(procedures))]
		bf.Items = append(bf.Items, LineItemFixture{
			Member:        members[g.rng.Intn(len(members))],
			ProcedureCode: proc.code,
			Description:   proc.description,
			Amount:        g.cents(proc.minCents, proc.maxCents),
		})
	}
	return bf
}

func pct(n int) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(int64(n)))
}

func copayOf(n int) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(int64(n)))
}
