package provider

// Feature represents a named carrier capability
type Feature string

const (
	FeatureNumberSearch   Feature = "number_search"
	FeatureNumberPurchase Feature = "number_purchase"
	FeatureNumberPorting  Feature = "number_porting"
	FeatureSMS            Feature = "sms"
	FeatureVoice          Feature = "voice"
)

// IsValid reports whether the feature is one the gateway dispatches on
func (f Feature) IsValid() bool {
	switch f {
	case FeatureNumberSearch, FeatureNumberPurchase, FeatureNumberPorting, FeatureSMS, FeatureVoice:
		return true
	}
	return false
}

func (f Feature) String() string {
	return string(f)
}
