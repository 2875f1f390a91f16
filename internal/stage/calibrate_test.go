package stage

import (
	"image"
	"math"
	"sync"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

// probeHarness ties a scripted link to a ground-truth optical transform:
// every published frame records the stage position at capture time, and the
// estimator reports the pixel shift the transform predicts between the two
// recorded positions.
type probeHarness struct {
	ctrl  *Controller
	link  *scriptLink
	truth [2][2]float64 // pixels per mm

	mu        sync.Mutex
	positions []Position
}

func newProbeHarness(truth [2][2]float64, params Params, notify Notifier) *probeHarness {
	h := &probeHarness{truth: truth, link: &scriptLink{}}
	h.ctrl = NewController(estimatorFunc(h.estimate), params, notify)
	h.link.onMove = h.publish
	h.ctrl.SetLink(h.link)
	h.publish()
	return h
}

func (h *probeHarness) publish() {
	h.mu.Lock()
	index := len(h.positions)
	h.positions = append(h.positions, h.link.position())
	h.mu.Unlock()
	h.ctrl.OnFrame(grayFrame(index))
}

func (h *probeHarness) estimate(a, b *image.Gray) (float64, float64, error) {
	h.mu.Lock()
	pa := h.positions[int(a.Pix[0])]
	pb := h.positions[int(b.Pix[0])]
	h.mu.Unlock()
	dx := pb.X - pa.X
	dy := pb.Y - pa.Y
	return h.truth[0][0]*dx + h.truth[0][1]*dy, h.truth[1][0]*dx + h.truth[1][1]*dy, nil
}

// failLink flags any device traffic as a test failure.
type failLink struct{ t *testing.T }

func (l failLink) SendRelativeMove(MoveVector) error {
	l.t.Error("unexpected SendRelativeMove")
	return nil
}

func (l failLink) QueryStatus(time.Duration) (*MachineStatus, error) {
	l.t.Error("unexpected QueryStatus")
	return &MachineStatus{State: "Idle", Position: &Position{}}, nil
}

// nilStatusLink moves but never produces a status report.
type nilStatusLink struct{ scriptLink }

func (l *nilStatusLink) QueryStatus(time.Duration) (*MachineStatus, error) {
	return nil, nil
}

func TestCalibrateAxisSignConvention(t *testing.T) {
	ctrl := NewController(constShift(40, 0), DefaultParams(), Notifier{})
	link := &scriptLink{}
	link.onMove = func() { ctrl.OnFrame(grayFrame(0)) }
	ctrl.OnFrame(grayFrame(0))
	ref, _ := ctrl.frames.Latest(time.Second)

	// The shift never reaches the target, so the probe runs out its step
	// budget and reports the accumulated motion.
	mm, shift, err := ctrl.calibrateAxis(link, ref.Gray, Position{}, axisX)
	if err != nil {
		t.Fatalf("calibrateAxis: %v", err)
	}
	if link.moveCount() != DefaultParams().MaxCalibrationSteps {
		t.Errorf("probe moves = %d, want %d", link.moveCount(), DefaultParams().MaxCalibrationSteps)
	}
	if !closeTo(mm, 5.0) {
		t.Errorf("total mm = %v, want 5.0", mm)
	}
	if !closeTo(shift[0], 40) || !closeTo(shift[1], 0) {
		t.Errorf("shift = %v, want [40 0]", shift)
	}
	// Positive stage motion with positive image shift yields a positive
	// pixels-per-mm ratio.
	if ratio := shift[0] / mm; ratio <= 0 {
		t.Errorf("pixels-per-mm ratio = %v, want positive", ratio)
	}
}

func TestCalibrateAxisStopsAtPixelTarget(t *testing.T) {
	calls := 0
	est := estimatorFunc(func(a, b *image.Gray) (float64, float64, error) {
		calls++
		return 20 * float64(calls), 0, nil
	})
	ctrl := NewController(est, DefaultParams(), Notifier{})
	link := &scriptLink{}
	link.onMove = func() { ctrl.OnFrame(grayFrame(0)) }
	ctrl.OnFrame(grayFrame(0))
	ref, _ := ctrl.frames.Latest(time.Second)

	mm, shift, err := ctrl.calibrateAxis(link, ref.Gray, Position{}, axisX)
	if err != nil {
		t.Fatalf("calibrateAxis: %v", err)
	}
	if link.moveCount() != 6 {
		t.Errorf("probe moves = %d, want 6 (20 px per 0.2 mm step, 120 px target)", link.moveCount())
	}
	if !closeTo(mm, 1.2) {
		t.Errorf("total mm = %v, want 1.2", mm)
	}
	if !closeTo(shift[0], 120) {
		t.Errorf("axis shift = %v, want 120", shift[0])
	}
}

func TestCalibrateAxisZeroMotion(t *testing.T) {
	ctrl := NewController(constShift(40, 0), DefaultParams(), Notifier{})
	link := &scriptLink{frozen: true}
	link.onMove = func() { ctrl.OnFrame(grayFrame(0)) }
	ctrl.OnFrame(grayFrame(0))
	ref, _ := ctrl.frames.Latest(time.Second)

	_, _, err := ctrl.calibrateAxis(link, ref.Gray, Position{}, axisX)
	if err == nil {
		t.Fatal("expected an error for a stage that reports no motion")
	}
	if kind, ok := KindOf(err); !ok || kind != KindCalibration {
		t.Errorf("error kind = %v, want KindCalibration", kind)
	}
	if err.Error() != "Detected zero movement while calibrating." {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCalibrateAxisZeroShift(t *testing.T) {
	ctrl := NewController(constShift(0, 0), DefaultParams(), Notifier{})
	link := &scriptLink{}
	link.onMove = func() { ctrl.OnFrame(grayFrame(0)) }
	ctrl.OnFrame(grayFrame(0))
	ref, _ := ctrl.frames.Latest(time.Second)

	_, _, err := ctrl.calibrateAxis(link, ref.Gray, Position{}, axisX)
	if err == nil {
		t.Fatal("expected an error for an image that never shifts")
	}
	if err.Error() != "Pixel shift too small to compute calibration." {
		t.Errorf("message = %q", err.Error())
	}
}

func TestEnsureCalibrationComputesInverseTransform(t *testing.T) {
	rec := newNotifyRecorder()
	// 100 px/mm on X; Y inverted, as a camera mounted upside down would be.
	h := newProbeHarness([2][2]float64{{100, 0}, {0, -100}}, DefaultParams(), rec.notifier())

	if err := h.ctrl.ensureCalibration(h.link); err != nil {
		t.Fatalf("ensureCalibration: %v", err)
	}
	if !h.ctrl.Calibrated() {
		t.Fatal("controller not calibrated after successful probe")
	}

	mmPerPxX, mmPerPxY := h.ctrl.MMPerPixel()
	if !roughly(mmPerPxX, 0.01) || !roughly(mmPerPxY, 0.01) {
		t.Errorf("mm-per-pixel = %v, %v, want 0.01, 0.01", mmPerPxX, mmPerPxY)
	}

	mmX, mmY, err := h.ctrl.pixelsToMM(50, -30)
	if err != nil {
		t.Fatalf("pixelsToMM: %v", err)
	}
	if !roughly(mmX, -0.5) || !roughly(mmY, -0.3) {
		t.Errorf("pixelsToMM(50,-30) = (%v, %v), want (-0.5, -0.3)", mmX, mmY)
	}

	if pos := h.link.position(); math.Hypot(pos.X, pos.Y) > 1e-9 {
		t.Errorf("stage not returned to origin: %+v", pos)
	}
	if len(rec.calibrations) == 0 {
		t.Error("CalibrationChanged was not notified")
	}
}

func TestEnsureCalibrationSingularMatrix(t *testing.T) {
	ctrl := NewController(constShift(150, 0), DefaultParams(), Notifier{})
	link := &scriptLink{}
	link.onMove = func() { ctrl.OnFrame(grayFrame(0)) }
	ctrl.SetLink(link)
	ctrl.OnFrame(grayFrame(0))

	err := ctrl.ensureCalibration(link)
	if err == nil {
		t.Fatal("expected an error when both axes produce the same shift direction")
	}
	if err.Error() != "Calibration matrix is singular." {
		t.Errorf("message = %q", err.Error())
	}
	if ctrl.Calibrated() {
		t.Error("controller calibrated from a singular probe")
	}
	if pos := link.position(); math.Hypot(pos.X, pos.Y) > 1e-9 {
		t.Errorf("stage not returned to origin after failure: %+v", pos)
	}
}

func TestEnsureCalibrationRequiresPosition(t *testing.T) {
	ctrl := NewController(constShift(40, 0), DefaultParams(), Notifier{})
	link := &nilStatusLink{}
	ctrl.OnFrame(grayFrame(0))

	err := ctrl.ensureCalibration(link)
	if err == nil {
		t.Fatal("expected an error without a machine position")
	}
	if err.Error() != "Unable to read machine position for calibration." {
		t.Errorf("message = %q", err.Error())
	}
}

func TestEnsureCalibrationSkipsWhenCalibrated(t *testing.T) {
	ctrl := NewController(constShift(0, 0), DefaultParams(), Notifier{})
	ctrl.mu.Lock()
	ctrl.pxToMM = mat.NewDense(2, 2, []float64{0.01, 0, 0, 0.01})
	ctrl.mu.Unlock()

	if err := ctrl.ensureCalibration(failLink{t}); err != nil {
		t.Fatalf("ensureCalibration: %v", err)
	}
}

func roughly(got, want float64) bool {
	return math.Abs(got-want) < 1e-6
}
