package onnx

// DefaultOpset is the opset version assumed when a model doesn't declare one.
const DefaultOpset = 21

// opsetFeature is an operator behavior that changed at some opset version of the default ONNX domain.
type opsetFeature int

const (
	// featureQuantizeScaleTypeMatchesInput: QuantizeLinear requires x and y_scale to have the same
	// element type. Before it, both were converted to their common type.
	featureQuantizeScaleTypeMatchesInput opsetFeature = iota

	numOpsetFeatures
)

// opsetFeatureSince is the first opset version in which each feature applies.
// All version-dependent parsing decisions are looked up here.
var opsetFeatureSince = [numOpsetFeatures]int{
	featureQuantizeScaleTypeMatchesInput: 19,
}

// supportedBy reports whether feature applies to the given opset version.
func (feature opsetFeature) supportedBy(opset int) bool {
	return opset >= opsetFeatureSince[feature]
}
