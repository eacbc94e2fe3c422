package configtypes

// OptionsProvider exposes the current feature toggles.
// Implementations must be safe for concurrent use.
type OptionsProvider interface {
	Options() FeatureOptions
}

// StaticOptions is an OptionsProvider with fixed values
type StaticOptions FeatureOptions

// Options implements OptionsProvider
func (s StaticOptions) Options() FeatureOptions {
	return FeatureOptions(s)
}
