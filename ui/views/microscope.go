// Package views contains the interactive widgets of the probe station UI:
// the live microscope view and the jog joystick window.
package views

import (
	"image"
	"image/color"
	"sync"

	"probe-station/pkg/geometry"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
)

var (
	crosshairColor = color.NRGBA{R: 0, G: 255, B: 255, A: 255}
	targetColor    = color.NRGBA{R: 255, G: 64, B: 64, A: 255}
)

// MicroscopeView renders camera frames letterboxed inside the widget with
// a fixed center crosshair and a movable target cross. A tap reports the
// offset from the image center, in image pixels, with positive dy pointing
// up so the value can feed the stage controller directly.
type MicroscopeView struct {
	widget.BaseWidget

	mu        sync.Mutex
	frame     image.Image
	targetRel *geometry.Point2D // 0..1 fractions of the displayed frame

	// OnClicked receives the pixel offset of a tap from the frame center.
	OnClicked func(dxPixels, dyPixels float64)
}

// NewMicroscopeView returns an empty view.
func NewMicroscopeView() *MicroscopeView {
	v := &MicroscopeView{}
	v.ExtendBaseWidget(v)
	return v
}

// SetFrame replaces the displayed frame.
func (v *MicroscopeView) SetFrame(img image.Image) {
	v.mu.Lock()
	v.frame = img
	v.mu.Unlock()
	v.Refresh()
}

// ClearTarget removes the movable target cross.
func (v *MicroscopeView) ClearTarget() {
	v.mu.Lock()
	v.targetRel = nil
	v.mu.Unlock()
	v.Refresh()
}

// Tapped implements fyne.Tappable: it maps the tap into frame pixel
// coordinates and reports the offset from center.
func (v *MicroscopeView) Tapped(ev *fyne.PointEvent) {
	v.mu.Lock()
	frame := v.frame
	v.mu.Unlock()
	if frame == nil {
		return
	}
	fw := float64(frame.Bounds().Dx())
	fh := float64(frame.Bounds().Dy())
	disp := displayRect(v.Size(), fw, fh)
	if disp.Width <= 0 || disp.Height <= 0 {
		return
	}
	p := geometry.NewPoint2D(float64(ev.Position.X), float64(ev.Position.Y))
	if !disp.Contains(p) {
		return
	}

	imageX := (p.X - disp.X) / disp.Width * fw
	imageY := (p.Y - disp.Y) / disp.Height * fh
	dx := imageX - fw/2
	dy := fh/2 - imageY

	rel := geometry.NewPoint2D(
		clamp01((p.X-disp.X)/disp.Width),
		clamp01((p.Y-disp.Y)/disp.Height),
	)
	v.mu.Lock()
	v.targetRel = &rel
	v.mu.Unlock()
	v.Refresh()

	if v.OnClicked != nil {
		v.OnClicked(dx, dy)
	}
}

// CreateRenderer implements fyne.Widget.
func (v *MicroscopeView) CreateRenderer() fyne.WidgetRenderer {
	r := &microscopeRenderer{
		view:    v,
		bg:      canvas.NewRectangle(color.Black),
		img:     canvas.NewImageFromImage(nil),
		crossH:  canvas.NewLine(crosshairColor),
		crossV:  canvas.NewLine(crosshairColor),
		targetH: canvas.NewLine(targetColor),
		targetV: canvas.NewLine(targetColor),
	}
	r.img.FillMode = canvas.ImageFillStretch
	r.targetH.Hide()
	r.targetV.Hide()
	return r
}

type microscopeRenderer struct {
	view             *MicroscopeView
	bg               *canvas.Rectangle
	img              *canvas.Image
	crossH, crossV   *canvas.Line
	targetH, targetV *canvas.Line
}

func (r *microscopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(640, 480)
}

func (r *microscopeRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	r.bg.Move(fyne.NewPos(0, 0))

	r.view.mu.Lock()
	frame := r.view.frame
	targetRel := r.view.targetRel
	r.view.mu.Unlock()

	if frame == nil {
		r.img.Hide()
		r.crossH.Hide()
		r.crossV.Hide()
		r.targetH.Hide()
		r.targetV.Hide()
		return
	}
	fw := float64(frame.Bounds().Dx())
	fh := float64(frame.Bounds().Dy())
	disp := displayRect(size, fw, fh)

	r.img.Show()
	r.img.Move(fyne.NewPos(float32(disp.X), float32(disp.Y)))
	r.img.Resize(fyne.NewSize(float32(disp.Width), float32(disp.Height)))

	center := disp.Center()
	r.crossH.Show()
	r.crossH.Position1 = fyne.NewPos(float32(disp.X), float32(center.Y))
	r.crossH.Position2 = fyne.NewPos(float32(disp.X+disp.Width), float32(center.Y))
	r.crossV.Show()
	r.crossV.Position1 = fyne.NewPos(float32(center.X), float32(disp.Y))
	r.crossV.Position2 = fyne.NewPos(float32(center.X), float32(disp.Y+disp.Height))

	if targetRel == nil {
		r.targetH.Hide()
		r.targetV.Hide()
		return
	}
	tx := disp.X + targetRel.X*disp.Width
	ty := disp.Y + targetRel.Y*disp.Height
	r.targetH.Show()
	r.targetH.Position1 = fyne.NewPos(float32(disp.X), float32(ty))
	r.targetH.Position2 = fyne.NewPos(float32(disp.X+disp.Width), float32(ty))
	r.targetV.Show()
	r.targetV.Position1 = fyne.NewPos(float32(tx), float32(disp.Y))
	r.targetV.Position2 = fyne.NewPos(float32(tx), float32(disp.Y+disp.Height))
}

func (r *microscopeRenderer) Refresh() {
	r.view.mu.Lock()
	r.img.Image = r.view.frame
	r.view.mu.Unlock()
	r.Layout(r.view.Size())
	r.img.Refresh()
	canvas.Refresh(r.view)
}

func (r *microscopeRenderer) Objects() []fyne.CanvasObject {
	return []fyne.CanvasObject{r.bg, r.img, r.crossH, r.crossV, r.targetH, r.targetV}
}

func (r *microscopeRenderer) Destroy() {}

// displayRect computes the letterboxed placement of a fw-by-fh frame
// inside the widget, preserving aspect ratio.
func displayRect(size fyne.Size, fw, fh float64) geometry.Rect {
	w := float64(size.Width)
	h := float64(size.Height)
	if fw <= 0 || fh <= 0 || w <= 0 || h <= 0 {
		return geometry.NewRect(0, 0, 0, 0)
	}
	scale := w / fw
	if s := h / fh; s < scale {
		scale = s
	}
	dw := fw * scale
	dh := fh * scale
	return geometry.NewRect((w-dw)/2, (h-dh)/2, dw, dh)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
