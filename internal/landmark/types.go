// Package landmark turns facial landmark frames into normalized geometric ratios.
package landmark

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors. Both mean "no usable signal this frame".
var (
	ErrMissingLandmark    = errors.New("missing landmark")
	ErrDegenerateGeometry = errors.New("degenerate face geometry")
)

// FaceMesh landmark indices used for expression analysis (MediaPipe convention).
const (
	UpperLipTop    = 13
	LowerLipBottom = 14
	LeftLipCorner  = 61
	RightLipCorner = 291
	UpperLipCenter = 0
	LeftBrowInner  = 107
	LeftBrowOuter  = 70
	RightBrowInner = 336
	RightBrowOuter = 300
	LeftEyeTop     = 159
	LeftEyeBottom  = 145
	RightEyeTop    = 386
	RightEyeBottom = 374
	NoseTip        = 1
	Chin           = 152
	ForeheadCenter = 10
	FaceMeshPoints = 468
)

// RequiredIndices lists every landmark a frame must carry to be analyzed.
var RequiredIndices = []int{
	UpperLipTop, LowerLipBottom, LeftLipCorner, RightLipCorner, UpperLipCenter,
	LeftBrowInner, LeftBrowOuter, RightBrowInner, RightBrowOuter,
	LeftEyeTop, LeftEyeBottom, RightEyeTop, RightEyeBottom,
	NoseTip,
	Chin, ForeheadCenter,
}

// Point is a single landmark in image space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// UnmarshalJSON accepts both the object form {"x":..,"y":..,"z":..}
// and the array form [x, y, z] emitted by FaceMesh scaledMesh.
func (p *Point) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil {
		switch len(arr) {
		case 2:
			*p = Point{X: arr[0], Y: arr[1]}
		case 3:
			*p = Point{X: arr[0], Y: arr[1], Z: arr[2]}
		default:
			return fmt.Errorf("landmark point: expected 2 or 3 coordinates, got %d", len(arr))
		}
		return nil
	}

	type plain Point
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("landmark point: %w", err)
	}
	*p = Point(obj)
	return nil
}

// Frame is one detection cycle's worth of landmarks, ordered by FaceMesh index.
type Frame []Point

// At returns the landmark at idx or ErrMissingLandmark.
func (f Frame) At(idx int) (Point, error) {
	if idx < 0 || idx >= len(f) {
		return Point{}, fmt.Errorf("%w: index %d (frame has %d points)", ErrMissingLandmark, idx, len(f))
	}
	return f[idx], nil
}

// Ratios holds the face-height normalized measurements used by the classifier.
type Ratios struct {
	Smile           float64 `json:"smile"`
	MouthWidth      float64 `json:"mouth_width"`
	MouthOpenness   float64 `json:"mouth_openness"`
	EyeOpenness     float64 `json:"eye_openness"`
	EyebrowDistance float64 `json:"eyebrow_distance"`
	EyebrowHeight   float64 `json:"eyebrow_height"`
	EyebrowLowered  float64 `json:"eyebrow_lowered"`
	LipsPressed     float64 `json:"lips_pressed"`
	Sad             float64 `json:"sad"`
}
