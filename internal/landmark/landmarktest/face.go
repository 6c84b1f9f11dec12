// Package landmarktest builds synthetic FaceMesh frames for tests.
package landmarktest

import "github.com/normanking/cortexaffect/internal/landmark"

// Option adjusts a synthetic face in place.
type Option func(landmark.Frame)

// Face returns a full FaceMesh frame describing a relaxed, neutral face with a
// face height of 200px, then applies opts in order.
func Face(opts ...Option) landmark.Frame {
	f := make(landmark.Frame, landmark.FaceMeshPoints)
	for i := range f {
		f[i] = landmark.Point{X: 320, Y: 200}
	}

	f[landmark.ForeheadCenter] = landmark.Point{X: 320, Y: 100}
	f[landmark.Chin] = landmark.Point{X: 320, Y: 300}
	f[landmark.NoseTip] = landmark.Point{X: 320, Y: 210, Z: -20}

	f[landmark.UpperLipCenter] = landmark.Point{X: 320, Y: 248}
	f[landmark.UpperLipTop] = landmark.Point{X: 320, Y: 250}
	f[landmark.LowerLipBottom] = landmark.Point{X: 320, Y: 254}
	f[landmark.LeftLipCorner] = landmark.Point{X: 280, Y: 252}
	f[landmark.RightLipCorner] = landmark.Point{X: 360, Y: 252}

	f[landmark.LeftBrowInner] = landmark.Point{X: 295, Y: 150}
	f[landmark.RightBrowInner] = landmark.Point{X: 345, Y: 150}
	f[landmark.LeftBrowOuter] = landmark.Point{X: 260, Y: 150}
	f[landmark.RightBrowOuter] = landmark.Point{X: 380, Y: 150}

	f[landmark.LeftEyeTop] = landmark.Point{X: 285, Y: 165}
	f[landmark.LeftEyeBottom] = landmark.Point{X: 285, Y: 173}
	f[landmark.RightEyeTop] = landmark.Point{X: 355, Y: 165}
	f[landmark.RightEyeBottom] = landmark.Point{X: 355, Y: 173}

	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Smile lifts both lip corners by px.
func Smile(px float64) Option {
	return func(f landmark.Frame) {
		f[landmark.LeftLipCorner].Y -= px
		f[landmark.RightLipCorner].Y -= px
	}
}

// Frown drops both lip corners by px.
func Frown(px float64) Option {
	return Smile(-px)
}

// NarrowMouth moves the lip corners px closer to the center each.
func NarrowMouth(px float64) Option {
	return func(f landmark.Frame) {
		f[landmark.LeftLipCorner].X += px
		f[landmark.RightLipCorner].X -= px
	}
}

// OpenMouth lowers the bottom lip by px.
func OpenMouth(px float64) Option {
	return func(f landmark.Frame) {
		f[landmark.LowerLipBottom].Y += px
	}
}

// WidenEyes lowers both lower eyelids by px; negative values squint.
func WidenEyes(px float64) Option {
	return func(f landmark.Frame) {
		f[landmark.LeftEyeBottom].Y += px
		f[landmark.RightEyeBottom].Y += px
	}
}

// FurrowBrows pulls the inner eyebrows px closer together each.
func FurrowBrows(px float64) Option {
	return func(f landmark.Frame) {
		f[landmark.LeftBrowInner].X += px
		f[landmark.RightBrowInner].X -= px
	}
}

// Flatten collapses the face height to zero.
func Flatten() Option {
	return func(f landmark.Frame) {
		f[landmark.Chin].Y = f[landmark.ForeheadCenter].Y
	}
}

// Truncate keeps only the first n points.
func Truncate(f landmark.Frame, n int) landmark.Frame {
	return f[:n]
}
