// Package camera runs the frame acquisition worker. It owns the capture
// device and delivers frames to a callback at the camera's own cadence;
// consumers decide what to keep.
package camera

import (
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// retryDelay spaces out read attempts when the device stalls.
const retryDelay = 100 * time.Millisecond

// Grabber continuously reads frames from one capture device.
type Grabber struct {
	deviceID int
	onFrame  func(image.Image)
	onError  func(error)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a grabber for the given device index. onFrame receives every
// decoded frame; onError receives open/read failures and may be nil.
func New(deviceID int, onFrame func(image.Image), onError func(error)) *Grabber {
	return &Grabber{
		deviceID: deviceID,
		onFrame:  onFrame,
		onError:  onError,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the capture loop on its own goroutine.
func (g *Grabber) Start() {
	go g.run()
}

// Stop terminates the loop and waits for the device to be released.
func (g *Grabber) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
	<-g.done
}

func (g *Grabber) run() {
	defer close(g.done)

	capture, err := gocv.OpenVideoCapture(g.deviceID)
	if err != nil {
		g.fail(errors.Wrapf(err, "opening capture device %d", g.deviceID))
		return
	}
	defer capture.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	log.WithField("device", g.deviceID).Info("camera capture started")
	for {
		select {
		case <-g.stop:
			log.Info("camera capture stopped")
			return
		default:
		}

		if ok := capture.Read(&frame); !ok || frame.Empty() {
			time.Sleep(retryDelay)
			continue
		}
		img, err := frame.ToImage()
		if err != nil {
			log.WithError(err).Debug("frame decode failed")
			continue
		}
		g.onFrame(img)
	}
}

func (g *Grabber) fail(err error) {
	log.WithError(err).Error("camera worker failed")
	if g.onError != nil {
		g.onError(err)
	}
}
