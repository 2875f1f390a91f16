package dialogs

import (
	"fmt"
	"strconv"

	"probe-station/internal/config"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

// SettingsDialog provides a property sheet for editing the application
// settings.
type SettingsDialog struct {
	cfg    config.Config
	window fyne.Window

	// Camera
	deviceEntry *widget.Entry

	// Motion
	feedRateEntry *widget.Entry

	// Calibration
	stepEntry      *widget.Entry
	targetEntry    *widget.Entry
	maxStepsEntry  *widget.Entry
	thresholdEntry *widget.Entry

	// Logging
	levelSelect *widget.Select

	onSave func(config.Config)
}

// NewSettingsDialog creates a settings dialog seeded from cfg. onSave
// receives the edited copy when the user confirms.
func NewSettingsDialog(cfg config.Config, window fyne.Window, onSave func(config.Config)) *SettingsDialog {
	return &SettingsDialog{
		cfg:    cfg,
		window: window,
		onSave: onSave,
	}
}

// Show displays the dialog.
func (d *SettingsDialog) Show() {
	content := d.createContent()

	dlg := dialog.NewCustomConfirm(
		"Settings",
		"Save",
		"Cancel",
		content,
		func(save bool) {
			if save {
				d.applyChanges()
				if d.onSave != nil {
					d.onSave(d.cfg)
				}
			}
		},
		d.window,
	)
	dlg.Resize(fyne.NewSize(420, 520))
	dlg.Show()
}

func (d *SettingsDialog) createContent() fyne.CanvasObject {
	d.deviceEntry = widget.NewEntry()
	d.deviceEntry.SetText(strconv.Itoa(d.cfg.Camera.Device))
	cameraForm := widget.NewForm(
		widget.NewFormItem("Device index", d.deviceEntry),
	)

	d.feedRateEntry = widget.NewEntry()
	d.feedRateEntry.SetText(fmt.Sprintf("%.0f", d.cfg.Stage.FeedRate))
	motionForm := widget.NewForm(
		widget.NewFormItem("Feed rate (mm/min)", d.feedRateEntry),
	)

	d.stepEntry = widget.NewEntry()
	d.stepEntry.SetText(fmt.Sprintf("%.3f", d.cfg.Stage.StepMM))
	d.targetEntry = widget.NewEntry()
	d.targetEntry.SetText(fmt.Sprintf("%.0f", d.cfg.Stage.PixelTarget))
	d.maxStepsEntry = widget.NewEntry()
	d.maxStepsEntry.SetText(strconv.Itoa(d.cfg.Stage.MaxSteps))
	d.thresholdEntry = widget.NewEntry()
	d.thresholdEntry.SetText(fmt.Sprintf("%.0f", d.cfg.Stage.VerifyThresholdPx))
	calibrationForm := widget.NewForm(
		widget.NewFormItem("Probe step (mm)", d.stepEntry),
		widget.NewFormItem("Target shift (px)", d.targetEntry),
		widget.NewFormItem("Max probe steps", d.maxStepsEntry),
		widget.NewFormItem("Refine threshold (px)", d.thresholdEntry),
	)

	d.levelSelect = widget.NewSelect(
		[]string{"trace", "debug", "info", "warn", "error"}, nil)
	d.levelSelect.SetSelected(d.cfg.Logging.Level)
	loggingForm := widget.NewForm(
		widget.NewFormItem("Level", d.levelSelect),
	)

	return container.NewVBox(
		widget.NewCard("Camera", "", cameraForm),
		widget.NewCard("Motion", "", motionForm),
		widget.NewCard("Calibration", "", calibrationForm),
		widget.NewCard("Logging", "", loggingForm),
	)
}

func (d *SettingsDialog) applyChanges() {
	if v, err := strconv.Atoi(d.deviceEntry.Text); err == nil && v >= 0 {
		d.cfg.Camera.Device = v
	}
	if v, err := strconv.ParseFloat(d.feedRateEntry.Text, 64); err == nil && v > 0 {
		d.cfg.Stage.FeedRate = v
	}
	if v, err := strconv.ParseFloat(d.stepEntry.Text, 64); err == nil && v > 0 {
		d.cfg.Stage.StepMM = v
	}
	if v, err := strconv.ParseFloat(d.targetEntry.Text, 64); err == nil && v > 0 {
		d.cfg.Stage.PixelTarget = v
	}
	if v, err := strconv.Atoi(d.maxStepsEntry.Text); err == nil && v > 0 {
		d.cfg.Stage.MaxSteps = v
	}
	if v, err := strconv.ParseFloat(d.thresholdEntry.Text, 64); err == nil && v > 0 {
		d.cfg.Stage.VerifyThresholdPx = v
	}
	if d.levelSelect.Selected != "" {
		d.cfg.Logging.Level = d.levelSelect.Selected
	}
}
