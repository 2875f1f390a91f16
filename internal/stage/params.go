package stage

// Params holds the tunable constants of the calibration and move engine.
// The zero value is not usable; start from DefaultParams.
type Params struct {
	// CalibrationPixelTarget is the pixel shift magnitude an axis probe
	// aims for before deriving the mm/px ratio. Larger shifts improve the
	// motion-to-noise ratio of the measurement.
	CalibrationPixelTarget float64
	// VerifyThresholdPx is the smallest requested displacement worth
	// verifying after a move; below it the refinement step is skipped.
	VerifyThresholdPx float64
	// CalibrationStepMM is the fixed probe step along each axis.
	CalibrationStepMM float64
	// MaxCalibrationSteps bounds the probe iterations per axis.
	MaxCalibrationSteps int
	// FeedRate is the F parameter for linear moves, in mm/min.
	FeedRate float64
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		CalibrationPixelTarget: 120.0,
		VerifyThresholdPx:      15.0,
		CalibrationStepMM:      0.2,
		MaxCalibrationSteps:    25,
		FeedRate:               600.0,
	}
}
