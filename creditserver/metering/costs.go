package metering

// Feature names a credit-gated capability of the app.
type Feature string

const (
	FeatureBasicHairstyle   Feature = "basic_hairstyle"
	FeaturePremiumHairstyle Feature = "premium_hairstyle"
	FeatureAIRecommendation Feature = "ai_recommendation"
	FeatureHDExport         Feature = "hd_export"
	FeatureStyleComparison  Feature = "style_comparison"
)

// Costs in credits per feature invocation. Configuration, not derived.
var usageCosts = map[Feature]int64{
	FeatureBasicHairstyle:   2,
	FeaturePremiumHairstyle: 5,
	FeatureAIRecommendation: 3,
	FeatureHDExport:         4,
	FeatureStyleComparison:  3,
}

var usageDescriptions = map[Feature]string{
	FeatureBasicHairstyle:   "Basic hairstyle try-on",
	FeaturePremiumHairstyle: "Premium hairstyle try-on",
	FeatureAIRecommendation: "AI style recommendation",
	FeatureHDExport:         "HD image export",
	FeatureStyleComparison:  "Style comparison",
}

// Cost returns the credit price of a feature, ok=false for unknown features.
func Cost(feature Feature) (int64, bool) {
	cost, ok := usageCosts[feature]
	return cost, ok
}

// Description returns the human-readable ledger description for a feature.
func Description(feature Feature) string {
	return usageDescriptions[feature]
}

// Features lists every known feature.
func Features() []Feature {
	return []Feature{
		FeatureBasicHairstyle,
		FeaturePremiumHairstyle,
		FeatureAIRecommendation,
		FeatureHDExport,
		FeatureStyleComparison,
	}
}
