package landmark

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Extract computes the normalized feature ratios for a frame.
//
// All ratios are divided by the face height, the vertical distance between
// the chin and the forehead center. A frame that lacks any required landmark
// fails with ErrMissingLandmark; a non-positive face height fails with
// ErrDegenerateGeometry.
func Extract(frame Frame) (Ratios, error) {
	for _, idx := range RequiredIndices {
		if _, err := frame.At(idx); err != nil {
			return Ratios{}, err
		}
	}

	upperLip := frame[UpperLipTop]
	lowerLip := frame[LowerLipBottom]
	leftCorner := frame[LeftLipCorner]
	rightCorner := frame[RightLipCorner]
	leftBrow := frame[LeftBrowInner]
	rightBrow := frame[RightBrowInner]
	leftEyeTop := frame[LeftEyeTop]
	leftEyeBottom := frame[LeftEyeBottom]
	rightEyeTop := frame[RightEyeTop]
	rightEyeBottom := frame[RightEyeBottom]
	nose := frame[NoseTip]

	faceHeight := math.Abs(frame[Chin].Y - frame[ForeheadCenter].Y)
	if !(faceHeight > 0) || math.IsInf(faceHeight, 0) {
		return Ratios{}, fmt.Errorf("%w: face height %v", ErrDegenerateGeometry, faceHeight)
	}

	// Lip corners rise above the lip center when smiling.
	lipCenterY := mean(upperLip.Y, lowerLip.Y)
	smile := mean(lipCenterY-leftCorner.Y, lipCenterY-rightCorner.Y) / faceHeight

	mouthOpenness := math.Abs(lowerLip.Y-upperLip.Y) / faceHeight

	r := Ratios{
		Smile:         smile,
		MouthWidth:    math.Abs(rightCorner.X-leftCorner.X) / faceHeight,
		MouthOpenness: mouthOpenness,
		EyeOpenness: mean(
			math.Abs(leftEyeBottom.Y-leftEyeTop.Y),
			math.Abs(rightEyeBottom.Y-rightEyeTop.Y),
		) / faceHeight,
		EyebrowDistance: math.Abs(rightBrow.X-leftBrow.X) / faceHeight,
		EyebrowHeight:   mean(nose.Y-leftBrow.Y, nose.Y-rightBrow.Y) / faceHeight,
		EyebrowLowered:  mean(leftBrow.Y-leftEyeTop.Y, rightBrow.Y-rightEyeTop.Y) / faceHeight,
		LipsPressed:     mouthOpenness,
		Sad:             -smile,
	}
	return r, nil
}

func mean(xs ...float64) float64 {
	return stat.Mean(xs, nil)
}
