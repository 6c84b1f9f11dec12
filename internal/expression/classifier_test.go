package expression

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexaffect/internal/landmark"
	"github.com/normanking/cortexaffect/internal/landmark/landmarktest"
)

// relaxed is a ratio vector that matches no rule.
var relaxed = landmark.Ratios{
	Smile:           0,
	MouthWidth:      0.4,
	MouthOpenness:   0.03,
	EyeOpenness:     0.04,
	EyebrowDistance: 0.25,
	EyebrowHeight:   0.3,
	EyebrowLowered:  -0.075,
	LipsPressed:     0.03,
	Sad:             0,
}

func with(mutate func(*landmark.Ratios)) landmark.Ratios {
	r := relaxed
	mutate(&r)
	return r
}

func TestClassify_Examples(t *testing.T) {
	tests := []struct {
		name   string
		ratios landmark.Ratios
		want   Label
	}{
		{"relaxed", relaxed, Neutral},
		{"surprised", with(func(r *landmark.Ratios) {
			r.MouthOpenness, r.LipsPressed = 0.10, 0.10
			r.EyeOpenness = 0.05
		}), Surprised},
		{"happy", with(func(r *landmark.Ratios) {
			r.Smile, r.Sad = 0.02, -0.02
			r.MouthWidth = 0.40
		}), Happy},
		{"smile too narrow", with(func(r *landmark.Ratios) {
			r.Smile, r.Sad = 0.02, -0.02
			r.MouthWidth = 0.30
		}), Neutral},
		{"sad", with(func(r *landmark.Ratios) {
			r.Smile, r.Sad = -0.01, 0.01
		}), Sad},
		{"angry", with(func(r *landmark.Ratios) {
			r.EyebrowDistance = 0.10
			r.Smile, r.Sad = -0.001, 0.001
		}), Angry},
		{"tensed", with(func(r *landmark.Ratios) {
			r.MouthOpenness, r.LipsPressed = 0.02, 0.02
			r.EyeOpenness = 0.03
			r.EyebrowDistance = 0.14
		}), Tensed},
		{"thresholds are strict", with(func(r *landmark.Ratios) {
			r.Smile, r.Sad = SmileThreshold, -SmileThreshold
			r.MouthWidth = 0.5
		}), Neutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ratios))
		})
	}
}

func TestClassify_Priority(t *testing.T) {
	tests := []struct {
		name   string
		ratios landmark.Ratios
		want   Label
	}{
		{"surprise beats anger", landmark.Ratios{
			MouthOpenness: 0.1, LipsPressed: 0.1, EyeOpenness: 0.05,
			EyebrowDistance: 0.1, EyebrowLowered: 0, Smile: -0.01, Sad: 0.01,
		}, Surprised},
		{"anger beats tension", landmark.Ratios{
			MouthOpenness: 0.01, LipsPressed: 0.01, EyeOpenness: 0.03,
			EyebrowDistance: 0.1, EyebrowLowered: 0, Smile: -0.01, Sad: 0.01,
		}, Angry},
		{"tension beats happiness", landmark.Ratios{
			MouthOpenness: 0.01, LipsPressed: 0.01, EyeOpenness: 0.03,
			EyebrowDistance: 0.1, Smile: 0.02, Sad: -0.02, MouthWidth: 0.4,
		}, Tensed},
		{"tension beats sadness", landmark.Ratios{
			MouthOpenness: 0.01, LipsPressed: 0.01, EyeOpenness: 0.03,
			EyebrowDistance: 0.14, EyebrowLowered: 0.05, Smile: -0.01, Sad: 0.01,
		}, Tensed},
		{"tension reads mouth openness, not lips pressed", landmark.Ratios{
			MouthOpenness: 0.05, LipsPressed: 0, EyeOpenness: 0.03,
			EyebrowDistance: 0.14, EyebrowLowered: 0.05, Smile: 0.02, Sad: -0.02, MouthWidth: 0.4,
		}, Happy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ratios))
		})
	}
}

func TestRules_Order(t *testing.T) {
	var got []Label
	for _, r := range Rules() {
		got = append(got, r.Label)
	}
	assert.Equal(t, []Label{Surprised, Angry, Tensed, Happy, Sad}, got)
}

func TestRules_ReturnsCopy(t *testing.T) {
	rs := Rules()
	rs[0] = Rule{Label: Neutral, Match: func(landmark.Ratios) bool { return true }}

	assert.Equal(t, Surprised, Rules()[0].Label)
}

func TestClassify_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		smile := rng.Float64()*0.06 - 0.03
		r := landmark.Ratios{
			Smile:           smile,
			MouthWidth:      rng.Float64() * 0.6,
			MouthOpenness:   rng.Float64() * 0.15,
			EyeOpenness:     rng.Float64() * 0.08,
			EyebrowDistance: rng.Float64() * 0.3,
			EyebrowHeight:   rng.Float64() * 0.4,
			EyebrowLowered:  rng.Float64()*0.2 - 0.1,
			Sad:             -smile,
		}
		r.LipsPressed = r.MouthOpenness

		first := Classify(r)
		require.True(t, first.Valid())
		for j := 0; j < 3; j++ {
			require.Equal(t, first, Classify(r))
		}
	}
}

func TestFromFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame landmark.Frame
		want  Label
	}{
		{"neutral", landmarktest.Face(), Neutral},
		{"surprised", landmarktest.Face(landmarktest.OpenMouth(20), landmarktest.WidenEyes(4)), Surprised},
		{"happy", landmarktest.Face(landmarktest.Smile(4)), Happy},
		{"narrow smile", landmarktest.Face(landmarktest.Smile(4), landmarktest.NarrowMouth(10)), Neutral},
		{"sad", landmarktest.Face(landmarktest.Frown(3)), Sad},
		{"angry", landmarktest.Face(landmarktest.FurrowBrows(15), landmarktest.Frown(2)), Angry},
		{"tensed", landmarktest.Face(landmarktest.FurrowBrows(15), landmarktest.WidenEyes(-3)), Tensed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromFrame(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromFrame_NoSignalIsNeutral(t *testing.T) {
	got, err := FromFrame(landmarktest.Face(landmarktest.Flatten()))
	assert.ErrorIs(t, err, landmark.ErrDegenerateGeometry)
	assert.Equal(t, Neutral, got)

	got, err = FromFrame(landmark.Frame{})
	assert.ErrorIs(t, err, landmark.ErrMissingLandmark)
	assert.Equal(t, Neutral, got)
}

func TestLabel_Valid(t *testing.T) {
	assert.True(t, Tensed.Valid())
	assert.False(t, Label("bored").Valid())
}
