package crawl

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"sitegrader/internal/types"
)

// Signal-string heuristics for business intelligence extraction. These are
// deliberately coarse: they feed prompt context and lead enrichment, not
// scoring, and missing data never fails the crawl.

var (
	sinceYearRe = regexp.MustCompile(`(?i)(?:since|established|est\.?|founded)\s+(19\d{2}|20\d{2})`)
	yearsRe     = regexp.MustCompile(`(?i)(\d{1,3})\+?\s+years\s+(?:of\s+)?(?:experience|in\s+business|serving)`)
)

var sizeSignalPhrases = []string{
	"team of", "employees", "staff members", "our team",
	"locations", "offices", "nationwide", "family owned", "family-owned",
}

var premiumFeaturePhrases = []string{
	"award-winning", "award winning", "certified", "licensed and insured",
	"satisfaction guarantee", "money-back", "money back guarantee",
	"free consultation", "24/7", "emergency service", "financing available",
}

var pricingPhrases = []string{
	"pricing", "price list", "$", "per month", "/mo", "starting at", "get a quote",
}

var decisionMakerPhrases = []string{
	"founder", "owner", "ceo", "president", "meet the team",
	"principal", "managing director",
}

// ExtractBusinessIntel scans page HTML for business signals.
func ExtractBusinessIntel(pageHTML string) types.BusinessIntel {
	text := strings.ToLower(pageHTML)

	intel := types.BusinessIntel{
		SizeSignals:         matchPhrases(text, sizeSignalPhrases),
		PremiumFeatures:     matchPhrases(text, premiumFeaturePhrases),
		DecisionMakerSignal: matchPhrases(text, decisionMakerPhrases),
	}

	for _, phrase := range pricingPhrases {
		if strings.Contains(text, phrase) {
			intel.PricingVisible = true
			break
		}
	}

	if m := sinceYearRe.FindStringSubmatch(pageHTML); m != nil {
		if year, err := strconv.Atoi(m[1]); err == nil {
			if age := time.Now().Year() - year; age > 0 && age < 200 {
				intel.YearsInBusiness = age
			}
		}
	} else if m := yearsRe.FindStringSubmatch(pageHTML); m != nil {
		if years, err := strconv.Atoi(m[1]); err == nil && years > 0 && years < 200 {
			intel.YearsInBusiness = years
		}
	}

	return intel
}

func matchPhrases(text string, phrases []string) []string {
	var found []string
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			found = append(found, phrase)
		}
	}
	return found
}

// mergeIntel folds per-page intel into a site-level view. Boolean signals
// OR together; the homepage's years figure wins when pages disagree.
func mergeIntel(pages []*types.Page) types.BusinessIntel {
	merged := types.BusinessIntel{}
	seen := map[string]struct{}{}

	appendUnique := func(dst *[]string, values []string) {
		for _, v := range values {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				*dst = append(*dst, v)
			}
		}
	}

	for _, p := range pages {
		appendUnique(&merged.SizeSignals, p.Intel.SizeSignals)
		appendUnique(&merged.PremiumFeatures, p.Intel.PremiumFeatures)
		appendUnique(&merged.DecisionMakerSignal, p.Intel.DecisionMakerSignal)
		merged.PricingVisible = merged.PricingVisible || p.Intel.PricingVisible

		if p.Intel.YearsInBusiness > 0 {
			if p.IsHomepage || merged.YearsInBusiness == 0 {
				merged.YearsInBusiness = p.Intel.YearsInBusiness
			}
		}
	}
	return merged
}
