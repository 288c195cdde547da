package domain

import "strings"

// Tier classifies a subscription plan. Plan ids whose case-folded form starts
// with "pro" are pro; everything else, including a missing subscription, is
// free.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// TierFromPlanID derives the tier from a billing plan id.
func TierFromPlanID(planID string) Tier {
	if strings.HasPrefix(strings.ToLower(planID), "pro") {
		return TierPro
	}
	return TierFree
}
