// Package main provides the entry point for the Probe Station application.
package main

import (
	"image"

	"probe-station/internal/camera"
	"probe-station/internal/config"
	"probe-station/internal/stage"
	"probe-station/internal/version"
	"probe-station/ui/mainwindow"

	"fyne.io/fyne/v2/app"
	log "github.com/sirupsen/logrus"
)

const appTitle = "Probe Station"

func main() {
	cfgPath, err := config.Path()
	if err != nil {
		log.WithError(err).Warn("config directory unavailable; using defaults")
	}
	cfg := config.Default()
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			log.WithError(err).Warn("could not load settings; using defaults")
		}
	}
	cfg.ApplyLogging()
	log.Infof("Starting %s v%s", appTitle, version.Version)

	fyneApp := app.New()
	win := mainwindow.New(fyneApp, cfg)

	controller := stage.NewController(stage.PhaseCorrelator{}, cfg.StageParams(), win.Notifier())
	win.SetController(controller)

	grabber := camera.New(cfg.Camera.Device,
		func(img image.Image) {
			controller.OnFrame(img)
			win.ShowFrame(img)
		},
		func(err error) {
			win.SetStatus("Camera error: " + err.Error())
		})
	grabber.Start()

	win.SetOnClosed(func() {
		log.Info("shutting down")
		grabber.Stop()
		controller.Shutdown()
		win.CloseLink()
		if cfgPath != "" {
			if err := config.Save(cfgPath, win.Config()); err != nil {
				log.WithError(err).Warn("could not save settings")
			}
		}
	})
	win.ShowAndRun()
}
