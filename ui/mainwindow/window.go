// Package mainwindow assembles the top-level probe station window: the
// live microscope view, the connection controls, and the status bar fed by
// the stage controller's notifications.
package mainwindow

import (
	"fmt"
	"image"
	"io"
	"sync"

	"probe-station/internal/config"
	"probe-station/internal/stage"
	"probe-station/ui/dialogs"
	"probe-station/ui/views"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	log "github.com/sirupsen/logrus"
)

// Window is the application main window.
type Window struct {
	app  fyne.App
	win  fyne.Window
	cfg  config.Config
	view *views.MicroscopeView

	statusLabel  *widget.Label
	connectLabel *widget.Label
	calLabel     *widget.Label

	mu         sync.Mutex
	link       *stage.SerialLink
	controller *stage.Controller
}

// New builds the window. The stage controller is attached afterwards with
// SetController so its notifier can be constructed from this window.
func New(app fyne.App, cfg config.Config) *Window {
	w := &Window{
		app:          app,
		win:          app.NewWindow("Probe Station"),
		cfg:          cfg,
		view:         views.NewMicroscopeView(),
		statusLabel:  widget.NewLabel("Waiting for camera…"),
		connectLabel: widget.NewLabel("Disconnected"),
		calLabel:     widget.NewLabel("Calibration: none"),
	}

	w.view.OnClicked = func(dx, dy float64) {
		w.mu.Lock()
		ctrl := w.controller
		w.mu.Unlock()
		if ctrl == nil {
			return
		}
		ctrl.RequestMove(dx, dy)
	}

	connect := widget.NewButton("Connect…", w.showConnectDialog)
	disconnect := widget.NewButton("Disconnect", w.disconnect)
	joystick := widget.NewButton("Joystick", func() {
		views.ShowJoystick(w.app, w.currentLink, w.Config().FeedratePresets)
	})
	settings := widget.NewButton("Settings…", w.showSettingsDialog)
	toolbar := container.NewHBox(connect, disconnect, joystick, settings, w.connectLabel)
	statusBar := container.NewHBox(w.statusLabel, w.calLabel)

	w.win.SetContent(container.NewBorder(toolbar, statusBar, nil, nil, w.view))
	w.win.Resize(fyne.NewSize(1000, 800))
	return w
}

// SetController attaches the stage controller driving the view's clicks.
func (w *Window) SetController(ctrl *stage.Controller) {
	w.mu.Lock()
	w.controller = ctrl
	w.mu.Unlock()
}

// Notifier returns the observer callbacks routing engine notifications
// into the status bar.
func (w *Window) Notifier() stage.Notifier {
	return stage.Notifier{
		StatusMessage: func(text string) {
			log.Info(text)
			w.statusLabel.SetText(text)
		},
		MovementStarted: func() {
			w.statusLabel.SetText("Moving stage…")
		},
		MovementFinished: func(success bool, message string) {
			if success {
				w.statusLabel.SetText(message)
				w.view.ClearTarget()
			} else {
				w.statusLabel.SetText("Move failed: " + message)
			}
		},
		CalibrationChanged: func(mmPerPxX, mmPerPxY float64) {
			w.calLabel.SetText(fmt.Sprintf("Calibration: %.6f / %.6f mm/px", mmPerPxX, mmPerPxY))
		},
	}
}

// ShowFrame forwards a camera frame to the view.
func (w *Window) ShowFrame(img image.Image) {
	w.view.SetFrame(img)
}

// SetStatus replaces the status bar text.
func (w *Window) SetStatus(text string) {
	w.statusLabel.SetText(text)
}

// ShowAndRun enters the UI main loop.
func (w *Window) ShowAndRun() {
	w.win.ShowAndRun()
}

// SetOnClosed registers the shutdown hook.
func (w *Window) SetOnClosed(fn func()) {
	w.win.SetOnClosed(fn)
}

func (w *Window) currentLink() *stage.SerialLink {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.link
}

// Config returns the current settings, including any edits made through
// the settings dialog.
func (w *Window) Config() config.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

func (w *Window) showSettingsDialog() {
	dialogs.NewSettingsDialog(w.Config(), w.win, func(cfg config.Config) {
		w.mu.Lock()
		w.cfg = cfg
		w.mu.Unlock()
		cfg.ApplyLogging()
		w.statusLabel.SetText("Settings saved. Calibration parameters apply on restart.")
	}).Show()
}

func (w *Window) showConnectDialog() {
	dialogs.ShowSerialScanner(w.win, func(portName string, baud int, conn io.ReadWriteCloser) {
		link := stage.NewSerialLink(conn, w.Config().Stage.FeedRate)

		w.mu.Lock()
		old := w.link
		w.link = link
		ctrl := w.controller
		w.mu.Unlock()
		if old != nil {
			old.Close()
		}
		if ctrl != nil {
			ctrl.SetLink(link)
		}

		log.WithFields(log.Fields{"port": portName, "baud": baud}).Info("serial connected")
		w.connectLabel.SetText(fmt.Sprintf("Connected to %s @ %d", portName, baud))
		w.statusLabel.SetText("Connected. Click the image to center a target.")
	})
}

func (w *Window) disconnect() {
	w.mu.Lock()
	link := w.link
	w.link = nil
	ctrl := w.controller
	w.mu.Unlock()

	if ctrl != nil {
		ctrl.SetLink(nil)
	}
	if link != nil {
		link.Close()
	}
	w.connectLabel.SetText("Disconnected")
	w.calLabel.SetText("Calibration: none")
	w.statusLabel.SetText("Serial connection closed.")
}

// CloseLink closes the serial link, if any, during application shutdown.
func (w *Window) CloseLink() {
	w.mu.Lock()
	link := w.link
	w.link = nil
	w.mu.Unlock()
	if link != nil {
		link.Close()
	}
}
