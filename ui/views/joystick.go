package views

import (
	"fmt"
	"strconv"

	"probe-station/internal/stage"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"
)

const (
	jogDistanceMM     = 10.0
	rotateDistanceDeg = 5.0
	customFeedLabel   = "Custom..."
)

// JoystickWindow provides directional jogging controls plus homing and
// safety commands. Each tap issues one $J jog of the configured distance;
// Stop aborts the motion in progress.
type JoystickWindow struct {
	win  fyne.Window
	link func() *stage.SerialLink

	status     *widget.Label
	feedSelect *widget.Select
	customFeed *widget.Entry
}

// ShowJoystick opens (or reuses) the joystick window. link resolves the
// current serial link and may return nil while disconnected.
func ShowJoystick(app fyne.App, link func() *stage.SerialLink, feedPresets []float64) *JoystickWindow {
	j := &JoystickWindow{
		win:    app.NewWindow("Joystick"),
		link:   link,
		status: widget.NewLabel("Ready"),
	}

	options := make([]string, 0, len(feedPresets)+1)
	for _, p := range feedPresets {
		options = append(options, strconv.FormatFloat(p, 'f', -1, 64))
	}
	options = append(options, customFeedLabel)
	j.customFeed = widget.NewEntry()
	j.customFeed.SetPlaceHolder("Enter custom rate")
	j.customFeed.Hide()
	j.feedSelect = widget.NewSelect(options, func(choice string) {
		if choice == customFeedLabel {
			j.customFeed.Show()
		} else {
			j.customFeed.Hide()
		}
	})
	if len(options) > 1 {
		j.feedSelect.SetSelectedIndex(0)
	}

	up := widget.NewButton("↑", func() { j.jog(stage.MoveVector{Y: jogDistanceMM}) })
	down := widget.NewButton("↓", func() { j.jog(stage.MoveVector{Y: -jogDistanceMM}) })
	left := widget.NewButton("←", func() { j.jog(stage.MoveVector{X: -jogDistanceMM}) })
	right := widget.NewButton("→", func() { j.jog(stage.MoveVector{X: jogDistanceMM}) })
	stop := widget.NewButton("Stop", j.stopJog)
	pad := container.NewGridWithColumns(3,
		layout.NewSpacer(), up, layout.NewSpacer(),
		left, stop, right,
		layout.NewSpacer(), down, layout.NewSpacer(),
	)

	rotateCCW := widget.NewButton("⟲", func() { j.jog(stage.MoveVector{B: rotateDistanceDeg}) })
	rotateCW := widget.NewButton("⟳", func() { j.jog(stage.MoveVector{B: -rotateDistanceDeg}) })
	rotate := container.NewHBox(layout.NewSpacer(), widget.NewLabel("Rotate B:"), rotateCCW, rotateCW, layout.NewSpacer())

	homeAll := widget.NewButton("Home All", func() { j.command(func(l *stage.SerialLink) error { return l.Home() }) })
	homeXY := widget.NewButton("Home XY", func() {
		j.command(func(l *stage.SerialLink) error {
			if err := l.HomeAxis("X"); err != nil {
				return err
			}
			return l.HomeAxis("Y")
		})
	})
	homeZ := widget.NewButton("Home Z", func() { j.command(func(l *stage.SerialLink) error { return l.HomeAxis("Z") }) })
	unlock := widget.NewButton("Unlock", func() { j.command(func(l *stage.SerialLink) error { return l.Unlock() }) })
	reset := widget.NewButton("Reset", func() { j.command(func(l *stage.SerialLink) error { return l.SoftReset() }) })

	feedRow := container.NewBorder(nil, nil, widget.NewLabel("Feed rate (mm/min):"), nil,
		container.NewVBox(j.feedSelect, j.customFeed))

	j.win.SetContent(container.NewVBox(
		j.status,
		feedRow,
		pad,
		rotate,
		container.NewGridWithColumns(3, homeAll, homeXY, homeZ),
		container.NewGridWithColumns(2, unlock, reset),
	))
	j.win.Resize(fyne.NewSize(320, 420))
	j.win.Show()
	return j
}

func (j *JoystickWindow) feedRate() (float64, bool) {
	text := j.feedSelect.Selected
	if text == customFeedLabel {
		text = j.customFeed.Text
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || value <= 0 {
		j.status.SetText("Feed rate must be a positive number.")
		return 0, false
	}
	return value, true
}

func (j *JoystickWindow) jog(move stage.MoveVector) {
	link := j.link()
	if link == nil {
		j.status.SetText("Disconnected")
		return
	}
	feed, ok := j.feedRate()
	if !ok {
		return
	}
	if err := link.Jog(move, feed); err != nil {
		j.status.SetText(fmt.Sprintf("Jog failed: %v", err))
		return
	}
	j.status.SetText("Jogging…")
}

func (j *JoystickWindow) stopJog() {
	j.command(func(l *stage.SerialLink) error { return l.JogCancel() })
}

func (j *JoystickWindow) command(run func(*stage.SerialLink) error) {
	link := j.link()
	if link == nil {
		j.status.SetText("Disconnected")
		return
	}
	if err := run(link); err != nil {
		j.status.SetText(fmt.Sprintf("Command failed: %v", err))
		return
	}
	j.status.SetText("Ready")
}
