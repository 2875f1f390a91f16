package stage

import (
	"image"

	"gocv.io/x/gocv"
)

// Estimator measures the sub-pixel translation between two grayscale
// frames of identical dimensions. Sign convention: positive dx means the
// content moved right in b relative to a, positive dy means it moved up
// (the image-row axis is inverted). The calibration math depends on this
// convention being applied consistently.
type Estimator interface {
	EstimateShift(a, b *image.Gray) (dx, dy float64, err error)
}

// PhaseCorrelator estimates translation by frequency-domain phase
// correlation, with a Hanning window to suppress edge artifacts.
type PhaseCorrelator struct{}

// EstimateShift implements Estimator.
func (PhaseCorrelator) EstimateShift(a, b *image.Gray) (float64, float64, error) {
	aw, ah := a.Bounds().Dx(), a.Bounds().Dy()
	bw, bh := b.Bounds().Dx(), b.Bounds().Dy()
	if aw != bw || ah != bh {
		return 0, 0, errStagef("Frame dimensions differ: %dx%d vs %dx%d.", aw, ah, bw, bh)
	}

	matA, err := grayToFloatMat(a)
	if err != nil {
		return 0, 0, err
	}
	defer matA.Close()
	matB, err := grayToFloatMat(b)
	if err != nil {
		return 0, 0, err
	}
	defer matB.Close()

	window := gocv.NewMat()
	defer window.Close()
	gocv.CreateHanningWindow(&window, image.Pt(aw, ah), gocv.MatTypeCV32F)

	shift, _ := gocv.PhaseCorrelate(matA, matB, window)
	return float64(shift.X), -float64(shift.Y), nil
}

// grayToFloatMat converts a tightly-packed grayscale raster into a CV_32F
// Mat, as required by PhaseCorrelate.
func grayToFloatMat(g *image.Gray) (gocv.Mat, error) {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	pix := g.Pix
	if g.Stride != w {
		packed := make([]byte, w*h)
		for row := 0; row < h; row++ {
			copy(packed[row*w:(row+1)*w], g.Pix[row*g.Stride:row*g.Stride+w])
		}
		pix = packed
	}
	bytes, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return gocv.Mat{}, errStagef("Frame conversion failed: %v.", err)
	}
	defer bytes.Close()
	float := gocv.NewMat()
	bytes.ConvertTo(&float, gocv.MatTypeCV32F)
	return float, nil
}
