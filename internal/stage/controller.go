// Package stage implements the motion and self-calibration engine of the
// probe station: it turns a clicked pixel offset into a relative stage
// move, discovers the pixel-to-millimeter transform by probing each axis,
// and refines that transform after every real move by measuring the actual
// image displacement.
package stage

import (
	"image"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

const (
	// pixelEpsilon is the click offset below which no move is needed.
	pixelEpsilon = 1e-3

	preMoveFrameTimeout  = 2 * time.Second
	postMoveFrameTimeout = 4 * time.Second
	shutdownJoinTimeout  = 2 * time.Second
)

// Controller is the top-level move executor. At most one move or
// calibration task runs at a time; a request arriving while one is active
// is rejected, not queued.
type Controller struct {
	params Params
	notify Notifier
	frames *FrameCache
	shift  Estimator

	mu     sync.Mutex
	link   Link
	pxToMM *mat.Dense // 2x2 pixels->mm transform; nil while uncalibrated
	active chan struct{}
}

// NewController builds a controller around the given shift estimator.
func NewController(shift Estimator, params Params, notify Notifier) *Controller {
	return &Controller{
		params: params,
		notify: notify,
		frames: NewFrameCache(),
		shift:  shift,
	}
}

// OnFrame receives camera frames from the acquisition worker.
func (c *Controller) OnFrame(img image.Image) {
	c.frames.Publish(img)
}

// Frames exposes the frame cache, mainly for wiring and tests.
func (c *Controller) Frames() *FrameCache { return c.frames }

// SetLink assigns or clears the device link. Any change invalidates the
// calibration; geometry measured on one connection is meaningless on
// another.
func (c *Controller) SetLink(link Link) {
	c.mu.Lock()
	c.link = link
	c.pxToMM = nil
	c.mu.Unlock()
}

// Calibrated reports whether a pixels-to-mm transform is available.
func (c *Controller) Calibrated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pxToMM != nil
}

// Busy reports whether a background move or calibration task is running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// MMPerPixel returns the per-axis transform magnitudes, or zeros while
// uncalibrated.
func (c *Controller) MMPerPixel() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pxToMM == nil {
		return 0, 0
	}
	return magnitudes(c.pxToMM)
}

// RequestMove begins an asynchronous move so the clicked point, expressed
// as a pixel offset from the image center, ends up centered. A second
// request while one is in flight is rejected immediately.
func (c *Controller) RequestMove(dxPixels, dyPixels float64) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		c.notify.statusf("Stage is busy. Ignoring the new click.")
		return
	}
	done := make(chan struct{})
	c.active = done
	c.mu.Unlock()
	go c.runMove(dxPixels, dyPixels, done)
}

// Shutdown waits, bounded, for the active task so the process does not
// exit mid-command.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	done := c.active
	c.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownJoinTimeout):
		log.Warn("stage task still running at shutdown")
	}
}

func (c *Controller) runMove(dxPixels, dyPixels float64, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
		close(done)
	}()

	c.notify.movementStarted()
	success, message, err := c.executeMove(dxPixels, dyPixels)
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == KindLink {
			// Transport is gone; drop the link so later requests fail fast.
			c.SetLink(nil)
		}
		c.notify.movementFinished(false, err.Error())
		return
	}
	c.notify.movementFinished(success, message)
}

func (c *Controller) executeMove(dxPixels, dyPixels float64) (bool, string, error) {
	link := c.currentLink()
	if link == nil {
		return false, "", errStagef("Serial connection is not available.")
	}

	c.notify.statusf("Ensuring calibration before movement…")
	if err := c.ensureCalibration(link); err != nil {
		return false, "", err
	}

	if math.Abs(dxPixels) < pixelEpsilon && math.Abs(dyPixels) < pixelEpsilon {
		return true, "Target already centered.", nil
	}

	before, ok := c.frames.Latest(preMoveFrameTimeout)
	if !ok {
		return false, "", errStagef("Camera frame unavailable before movement.")
	}

	// Moving the stage shifts the image in the opposite direction, so the
	// calibrated conversion is negated when turning pixel error into mm.
	mmX, mmY, err := c.pixelsToMM(dxPixels, dyPixels)
	if err != nil {
		return false, "", err
	}
	move := MoveVector{X: mmX, Y: mmY}

	c.notify.statusf("Jogging stage ΔX=%.3f mm ΔY=%.3f mm", move.X, move.Y)
	if err := link.SendRelativeMove(move); err != nil {
		return false, "", err
	}

	after, ok := c.frames.WaitNewerThan(before.Counter, postMoveFrameTimeout)
	if !ok {
		return false, "Movement command sent but camera did not provide an updated frame.", nil
	}

	shiftX, shiftY, err := c.shift.EstimateShift(before.Gray, after.Gray)
	if err != nil {
		return false, "", err
	}

	message := c.refineCalibration(
		[2]float64{dxPixels, dyPixels},
		[2]float64{shiftX, shiftY},
		[2]float64{mmX, mmY},
	)
	return true, message, nil
}

func (c *Controller) currentLink() Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// pixelsToMM applies the negated calibration transform to a pixel offset.
func (c *Controller) pixelsToMM(dxPixels, dyPixels float64) (float64, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pxToMM == nil {
		return 0, 0, errCalibrationf("Calibration failed. Cannot move stage.")
	}
	var mm mat.VecDense
	mm.MulVec(c.pxToMM, mat.NewVecDense(2, []float64{dxPixels, dyPixels}))
	return -mm.AtVec(0), -mm.AtVec(1), nil
}

// refineCalibration applies a rank-1 online correction to the transform
// after a real move: the expected pixel displacement (the click) is
// compared against the measured one and the matrix is nudged so that the
// measured displacement would have predicted the commanded mm vector.
// Deliberately unclamped; a single measurement fully corrects itself.
func (c *Controller) refineCalibration(expectedPx, measuredPx, mmVector [2]float64) string {
	const message = "Move complete."

	if math.Hypot(expectedPx[0], expectedPx[1]) < c.params.VerifyThresholdPx {
		return message
	}
	if math.Hypot(measuredPx[0], measuredPx[1]) < 1e-6 {
		return message
	}
	denom := measuredPx[0]*measuredPx[0] + measuredPx[1]*measuredPx[1]
	if math.Abs(denom) < 1e-6 {
		return message
	}

	c.mu.Lock()
	if c.pxToMM == nil {
		c.mu.Unlock()
		return message
	}
	measured := mat.NewVecDense(2, []float64{measuredPx[0], measuredPx[1]})
	var predicted mat.VecDense
	predicted.MulVec(c.pxToMM, measured)
	residual := mat.NewVecDense(2, []float64{
		mmVector[0] - predicted.AtVec(0),
		mmVector[1] - predicted.AtVec(1),
	})

	var correction mat.Dense
	correction.Outer(1/denom, residual, measured)
	var updated mat.Dense
	updated.Add(c.pxToMM, &correction)
	if !allFinite(&updated) {
		c.mu.Unlock()
		return message
	}
	c.pxToMM = &updated
	mmPerPxX, mmPerPxY := magnitudes(c.pxToMM)
	c.mu.Unlock()

	c.notify.calibrationChanged(mmPerPxX, mmPerPxY)
	return message + " Calibration refined."
}

// magnitudes returns the Euclidean norms of the transform's columns, the
// effective mm-per-pixel scale of each image axis.
func magnitudes(m *mat.Dense) (float64, float64) {
	return math.Hypot(m.At(0, 0), m.At(1, 0)), math.Hypot(m.At(0, 1), m.At(1, 1))
}

func allFinite(m *mat.Dense) bool {
	r, cols := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
