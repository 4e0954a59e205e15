package state

import "fmt"

// Canonical replication attribute names observed in the dataset. The
// registry is versioned by patch era; names outside it still apply via
// the synthetic-name escape hatch so nothing is dropped.
const (
	AttrHealth       = "mHP"
	AttrMaxHealth    = "mMaxHP"
	AttrMana         = "mMP"
	AttrMaxMana      = "mMaxMP"
	AttrGold         = "mGoldAmount"
	AttrGoldOnDeath  = "mBaseGoldGivenOnDeath"
	AttrNeutralKills = "mNumNeutralMinionsKilled"
	AttrLevel        = "mLevel"
	AttrExperience   = "mExp"
)

// knownAttributes is the registry of attribute names the reconstructor
// recognizes. Membership only affects auditing; unknown names are still
// folded into entity state.
var knownAttributes = map[string]bool{
	AttrHealth:       true,
	AttrMaxHealth:    true,
	AttrMana:         true,
	AttrMaxMana:      true,
	AttrGold:         true,
	AttrGoldOnDeath:  true,
	AttrNeutralKills: true,
	AttrLevel:        true,
	AttrExperience:   true,
}

// KnownAttribute reports whether name is in the versioned registry.
func KnownAttribute(name string) bool {
	return knownAttributes[name]
}

// AttributeName resolves the canonical name for one replication delta.
// Unnamed deltas get a synthetic, stable name derived from their index
// pair so repeated updates to the same unnamed field overwrite each
// other instead of accumulating.
func AttributeName(name string, primary, secondary int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("repl_%d_%d", primary, secondary)
}
