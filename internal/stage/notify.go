package stage

import "fmt"

// Notifier carries the observer callbacks consumed by the UI layer. Any
// field may be nil; notifications to nil callbacks are dropped. Callbacks
// run on the move task's goroutine and must not block.
type Notifier struct {
	StatusMessage      func(text string)
	MovementStarted    func()
	MovementFinished   func(success bool, message string)
	CalibrationChanged func(mmPerPixelX, mmPerPixelY float64)
}

func (n Notifier) statusf(format string, args ...interface{}) {
	if n.StatusMessage != nil {
		n.StatusMessage(fmt.Sprintf(format, args...))
	}
}

func (n Notifier) movementStarted() {
	if n.MovementStarted != nil {
		n.MovementStarted()
	}
}

func (n Notifier) movementFinished(success bool, message string) {
	if n.MovementFinished != nil {
		n.MovementFinished(success, message)
	}
}

func (n Notifier) calibrationChanged(mmPerPixelX, mmPerPixelY float64) {
	if n.CalibrationChanged != nil {
		n.CalibrationChanged(mmPerPixelX, mmPerPixelY)
	}
}
