// Package dialogs contains the modal dialogs of the probe station UI.
package dialogs

import (
	"fmt"
	"io"
	"strconv"

	"probe-station/internal/serialport"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

// ShowSerialScanner presents the port scan/connect dialog. onConnect
// receives the opened connection; the dialog closes itself on success.
func ShowSerialScanner(parent fyne.Window, onConnect func(portName string, baud int, conn io.ReadWriteCloser)) {
	portSelect := widget.NewSelect(nil, nil)
	status := widget.NewLabel("")
	status.Wrapping = fyne.TextWrapWord

	baudOptions := make([]string, len(serialport.BaudRates))
	baudIndex := 0
	for i, rate := range serialport.BaudRates {
		baudOptions[i] = strconv.Itoa(rate)
		if rate == serialport.DefaultBaud {
			baudIndex = i
		}
	}
	baudSelect := widget.NewSelect(baudOptions, nil)
	baudSelect.SetSelectedIndex(baudIndex)

	refresh := func() {
		ports, err := serialport.List()
		if err != nil {
			status.SetText(fmt.Sprintf("Scan failed: %v", err))
			return
		}
		if len(ports) == 0 {
			portSelect.Options = []string{}
			portSelect.Refresh()
			status.SetText("No serial ports available. Use Refresh to scan again.")
			return
		}
		portSelect.Options = ports
		portSelect.SetSelectedIndex(0)
		portSelect.Refresh()
		status.SetText("")
	}
	refresh()

	form := container.NewVBox(
		widget.NewForm(
			widget.NewFormItem("Port", portSelect),
			widget.NewFormItem("Baud rate", baudSelect),
		),
		widget.NewButton("Refresh", refresh),
		status,
	)

	d := dialog.NewCustomConfirm("Serial Scanner", "Connect", "Cancel", form,
		func(connect bool) {
			if !connect {
				return
			}
			portName := portSelect.Selected
			if portName == "" {
				return
			}
			baud, err := strconv.Atoi(baudSelect.Selected)
			if err != nil {
				baud = serialport.DefaultBaud
			}
			conn, err := serialport.Open(portName, baud)
			if err != nil {
				dialog.ShowError(err, parent)
				return
			}
			onConnect(portName, baud, conn)
		}, parent)
	d.Resize(fyne.NewSize(380, 260))
	d.Show()
}
