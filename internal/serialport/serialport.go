// Package serialport enumerates and opens the serial ports used to reach
// the motion controller.
package serialport

import (
	"io"
	"sort"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// BaudRates lists the rates offered by the connection dialog, highest
// first. 115200 is the customary grbl default.
var BaudRates = []int{250000, 230400, 200000, 128000, 115200, 57600, 38400, 19200, 9600}

// DefaultBaud is the preselected rate.
const DefaultBaud = 115200

// List returns the system's serial port names, sorted.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "listing serial ports")
	}
	sort.Strings(ports)
	return ports, nil
}

// Open opens a port in 8N1 mode at the given baud rate.
func Open(portName string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s @ %d", portName, baud)
	}
	return port, nil
}
