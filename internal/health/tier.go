package health

// Tier is the discrete health classification of a source.
type Tier string

const (
	TierGathering       Tier = "gathering"
	TierInactive        Tier = "inactive"
	TierProductive      Tier = "productive"
	TierFiltered        Tier = "filtered"
	TierActive          Tier = "active"
	TierTechnicalIssues Tier = "technical_issues"
	TierIdle            Tier = "idle"
	TierReconnecting    Tier = "reconnecting"
)

// Tiers lists every tier in classification priority order.
var Tiers = []Tier{
	TierGathering,
	TierInactive,
	TierProductive,
	TierFiltered,
	TierActive,
	TierTechnicalIssues,
	TierIdle,
	TierReconnecting,
}

// Description is the fixed operator-facing text for a tier. Operators pick a
// remediation from it, so the strings are part of the contract.
type Description struct {
	Label     string
	Rationale string
}

var catalog = map[Tier]Description{
	TierGathering: {
		Label:     "Gathering",
		Rationale: "Collecting articles now, or too new to have scrape history.",
	},
	TierInactive: {
		Label:     "Inactive",
		Rationale: "Deactivated by an operator. No scraping is scheduled.",
	},
	TierProductive: {
		Label:     "Productive",
		Rationale: "Connects reliably and keeps producing articles.",
	},
	TierFiltered: {
		Label:     "Filtered",
		Rationale: "Connects fine, but most content is rejected downstream. Review quality and relevance tuning.",
	},
	TierActive: {
		Label:     "Active",
		Rationale: "Scraping regularly with a moderate success rate.",
	},
	TierTechnicalIssues: {
		Label:     "Technical issues",
		Rationale: "Scraped recently but most runs fail. Check the site layout or scraper configuration.",
	},
	TierIdle: {
		Label:     "Idle",
		Rationale: "No scrape in the last week. It will be picked up by the next scheduled run.",
	},
	TierReconnecting: {
		Label:     "Reconnecting",
		Rationale: "Unreachable for a month or failing with errors. Check network access and credentials.",
	},
}

// Describe returns the label and rationale for t.
func Describe(t Tier) Description {
	if d, ok := catalog[t]; ok {
		return d
	}
	return Description{Label: string(t), Rationale: "Unknown health tier."}
}

// NeedsAttention reports whether t should raise an operator alert.
func (t Tier) NeedsAttention() bool {
	return t == TierTechnicalIssues || t == TierReconnecting
}

// WantsRescrape reports whether an active source in t should be re-scraped
// ahead of schedule.
func (t Tier) WantsRescrape() bool {
	return t == TierIdle || t == TierReconnecting || t == TierTechnicalIssues
}
