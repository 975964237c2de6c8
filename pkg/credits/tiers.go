package credits

// Tier maps one payment amount to a plan label and a credit grant.
type Tier struct {
	AmountPaid int64  `mapstructure:"amount_paid" json:"amount_paid"`
	Plan       string `mapstructure:"plan" json:"plan"`
	Credits    int64  `mapstructure:"credits" json:"credits"`
}

// TierTable resolves payment amounts to credit grants.
type TierTable struct {
	tiers []Tier
}

const (
	// PlanUnmapped labels grants funded by amounts outside the table.
	PlanUnmapped = "Unmapped"
	// UnmappedCredits is the fallback minimal grant for unknown amounts.
	// Revenue is never silently rejected.
	UnmappedCredits int64 = 100
)

var defaultTiers = []Tier{
	{AmountPaid: 500, Plan: "Light", Credits: 500},
	{AmountPaid: 2000, Plan: "Standard", Credits: 3000},
}

// DefaultTierTable returns the compiled-in tier configuration.
func DefaultTierTable() TierTable {
	return TierTable{tiers: defaultTiers}
}

// NewTierTable builds a table from configuration data. Entries with a
// non-positive amount or grant are rejected.
func NewTierTable(tiers []Tier) (TierTable, error) {
	if len(tiers) == 0 {
		return DefaultTierTable(), nil
	}
	for _, tier := range tiers {
		if tier.AmountPaid <= 0 {
			return TierTable{}, WrapError("tiers", "amount", "invalid", ErrInvalidGrantAmount)
		}
		if tier.Credits <= 0 {
			return TierTable{}, WrapError("tiers", "credits", "invalid", ErrInvalidGrantAmount)
		}
	}
	copied := make([]Tier, len(tiers))
	copy(copied, tiers)
	return TierTable{tiers: copied}, nil
}

// Resolve maps an amount to (credits granted, plan label). Amounts
// matching no tier receive the fallback minimal grant.
func (table TierTable) Resolve(amountPaid int64) (int64, string) {
	for _, tier := range table.tiers {
		if tier.AmountPaid == amountPaid {
			return tier.Credits, tier.Plan
		}
	}
	return UnmappedCredits, PlanUnmapped
}
