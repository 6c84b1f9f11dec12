// Package expression classifies facial feature ratios into an emotion label.
package expression

import (
	"github.com/normanking/cortexaffect/internal/landmark"
)

// Label is a discrete facial expression.
type Label string

const (
	Neutral   Label = "neutral"
	Happy     Label = "happy"
	Sad       Label = "sad"
	Surprised Label = "surprised"
	Angry     Label = "angry"
	Tensed    Label = "tensed"
)

// Labels lists every label the classifier can produce.
var Labels = []Label{Neutral, Happy, Sad, Surprised, Angry, Tensed}

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// Empirical thresholds, tuned for typical expressions.
const (
	SurpriseMouthThreshold = 0.08
	SurpriseEyeThreshold   = 0.045

	AngryBrowDistanceThreshold = 0.12 // brows pulled together
	AngryBrowLoweredThreshold  = 0.02 // brows lowered toward the eyes

	TensedLipThreshold          = 0.025 // lips pressed
	TensedEyeThreshold          = 0.035 // eyes narrowed
	TensedBrowDistanceThreshold = 0.15

	SmileThreshold      = 0.012
	SmileWidthThreshold = 0.35

	SadThreshold = 0.008
)

// Rule maps a predicate over feature ratios to a label.
type Rule struct {
	Name  string
	Label Label
	Match func(landmark.Ratios) bool
}

// rules is evaluated top to bottom; the first match wins. Order resolves
// overlapping signatures (an open-mouthed frown is surprise, not anger).
var rules = []Rule{
	{
		Name:  "surprise: open mouth and wide eyes",
		Label: Surprised,
		Match: func(r landmark.Ratios) bool {
			return r.MouthOpenness > SurpriseMouthThreshold && r.EyeOpenness > SurpriseEyeThreshold
		},
	},
	{
		Name:  "anger: furrowed, lowered brows with a slight frown",
		Label: Angry,
		Match: func(r landmark.Ratios) bool {
			return r.EyebrowDistance < AngryBrowDistanceThreshold &&
				r.EyebrowLowered < AngryBrowLoweredThreshold &&
				r.Smile < 0
		},
	},
	{
		Name:  "tension: pressed lips, narrowed eyes, brows together",
		Label: Tensed,
		Match: func(r landmark.Ratios) bool {
			return r.MouthOpenness < TensedLipThreshold &&
				r.EyeOpenness < TensedEyeThreshold &&
				r.EyebrowDistance < TensedBrowDistanceThreshold
		},
	},
	{
		Name:  "happiness: raised, widened lip corners",
		Label: Happy,
		Match: func(r landmark.Ratios) bool {
			return r.Smile > SmileThreshold && r.MouthWidth > SmileWidthThreshold
		},
	},
	{
		Name:  "sadness: dropped lip corners",
		Label: Sad,
		Match: func(r landmark.Ratios) bool {
			return r.Sad > SadThreshold
		},
	},
}

// Rules returns a copy of the ordered decision table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify returns the label of the first matching rule, or Neutral.
func Classify(r landmark.Ratios) Label {
	for _, rule := range rules {
		if rule.Match(r) {
			return rule.Label
		}
	}
	return Neutral
}

// FromFrame extracts ratios from a frame and classifies them. When the frame
// carries no usable signal the label is Neutral and the extractor error is
// returned alongside it.
func FromFrame(frame landmark.Frame) (Label, error) {
	r, err := landmark.Extract(frame)
	if err != nil {
		return Neutral, err
	}
	return Classify(r), nil
}
