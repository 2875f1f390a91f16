package stage

import (
	"image"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

const (
	calibrationFrameTimeout = 3 * time.Second
	axisFrameTimeout        = 2 * time.Second

	// originReturnTolMM is the residual below which the stage is
	// considered back at the calibration origin.
	originReturnTolMM = 1e-5
)

type axisID int

const (
	axisX axisID = iota
	axisY
)

func (a axisID) String() string {
	if a == axisY {
		return "Y"
	}
	return "X"
}

// ensureCalibration derives the pixels-to-mm transform if none exists.
// Each linear axis is probed independently with small fixed steps until the
// resulting image shift is large enough to measure reliably; the stage is
// returned to its origin afterwards regardless of the outcome.
func (c *Controller) ensureCalibration(link Link) error {
	if c.Calibrated() {
		return nil
	}
	c.notify.statusf("Starting calibration sequence…")

	reference, ok := c.frames.Latest(calibrationFrameTimeout)
	if !ok {
		return errCalibrationf("Camera frames are unavailable for calibration.")
	}

	start, err := link.QueryStatus(statusTimeout)
	if err != nil {
		return err
	}
	if start == nil || start.Position == nil {
		return errCalibrationf("Unable to read machine position for calibration.")
	}
	origin := *start.Position

	var (
		mmX, mmY       float64
		shiftX, shiftY [2]float64
	)
	probeErr := func() error {
		var err error
		mmX, shiftX, err = c.calibrateAxis(link, reference.Gray, origin, axisX)
		if err != nil {
			return err
		}
		// Probe Y against the freshest frame available so the X probe's
		// displacement does not contaminate the Y measurement.
		referenceY := reference.Gray
		if snap, ok := c.frames.Latest(axisFrameTimeout); ok {
			referenceY = snap.Gray
		}
		mmY, shiftY, err = c.calibrateAxis(link, referenceY, origin, axisY)
		return err
	}()
	c.returnToOrigin(link, origin)
	if probeErr != nil {
		return probeErr
	}

	// Columns are the measured pixel shift per millimeter of each axis.
	pxPerMM := mat.NewDense(2, 2, []float64{
		shiftX[0] / mmX, shiftY[0] / mmY,
		shiftX[1] / mmX, shiftY[1] / mmY,
	})
	if !allFinite(pxPerMM) {
		return errCalibrationf("Calibration produced invalid values.")
	}
	if math.Abs(mat.Det(pxPerMM)) < 1e-9 {
		return errCalibrationf("Calibration matrix is singular.")
	}
	var pxToMM mat.Dense
	if err := pxToMM.Inverse(pxPerMM); err != nil {
		return errCalibrationf("Calibration matrix is singular.")
	}

	c.mu.Lock()
	c.pxToMM = &pxToMM
	mmPerPxX, mmPerPxY := magnitudes(c.pxToMM)
	c.mu.Unlock()

	c.notify.calibrationChanged(mmPerPxX, mmPerPxY)
	c.notify.statusf("Calibration updated: ΔX %.6f mm/px, ΔY %.6f mm/px", mmPerPxX, mmPerPxY)
	return nil
}

// calibrateAxis steps the stage along one axis until the measured pixel
// shift reaches the calibration target, then returns the net mm
// displacement from origin and the full 2-D pixel shift vector.
func (c *Controller) calibrateAxis(link Link, reference *image.Gray, origin Position, axis axisID) (float64, [2]float64, error) {
	var (
		totalMM float64
		shift   [2]float64
	)
	counter := c.frames.Counter()
	for step := 0; step < c.params.MaxCalibrationSteps; step++ {
		move := MoveVector{}
		if axis == axisX {
			move.X = c.params.CalibrationStepMM
		} else {
			move.Y = c.params.CalibrationStepMM
		}
		if err := link.SendRelativeMove(move); err != nil {
			return 0, shift, err
		}

		snap, ok := c.frames.WaitNewerThan(counter, axisFrameTimeout)
		if !ok {
			return 0, shift, errCalibrationf("Camera did not update during calibration.")
		}
		counter = snap.Counter

		status, err := link.QueryStatus(statusTimeout)
		if err != nil {
			return 0, shift, err
		}
		if status == nil || status.Position == nil {
			return 0, shift, errCalibrationf("Unable to query position during calibration.")
		}
		if axis == axisX {
			totalMM = status.Position.X - origin.X
		} else {
			totalMM = status.Position.Y - origin.Y
		}

		shiftX, shiftY, err := c.shift.EstimateShift(reference, snap.Gray)
		if err != nil {
			return 0, shift, err
		}
		shift = [2]float64{shiftX, shiftY}

		axisShift := shiftX
		if axis == axisY {
			axisShift = shiftY
		}
		if math.Abs(axisShift) >= c.params.CalibrationPixelTarget {
			break
		}
	}

	if math.Abs(totalMM) < 1e-6 {
		return 0, shift, errCalibrationf("Detected zero movement while calibrating.")
	}
	if math.Hypot(shift[0], shift[1]) < 1e-6 {
		return 0, shift, errCalibrationf("Pixel shift too small to compute calibration.")
	}
	log.WithFields(log.Fields{
		"axis":    axis.String(),
		"mm":      totalMM,
		"shiftPx": shift,
	}).Debug("axis probe complete")
	return totalMM, shift, nil
}

// returnToOrigin drives the stage back to where calibration started. Best
// effort: a failure here must not mask the calibration result already
// obtained from the probing moves.
func (c *Controller) returnToOrigin(link Link, origin Position) {
	status, err := link.QueryStatus(statusTimeout)
	if err != nil || status == nil || status.Position == nil {
		log.WithError(err).Warn("could not read position to return to calibration origin")
		return
	}
	move := MoveVector{
		X: origin.X - status.Position.X,
		Y: origin.Y - status.Position.Y,
	}
	if move.IsZero(originReturnTolMM) {
		return
	}
	c.notify.statusf("Returning stage to calibration origin…")
	if err := link.SendRelativeMove(move); err != nil {
		log.WithError(err).Warn("return to calibration origin failed")
		c.notify.statusf("Could not return stage to calibration origin: %v", err)
	}
}
