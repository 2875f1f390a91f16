package stage

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Protocol deadlines. These follow the controller firmware's observed
// response times: acks arrive immediately, status reports within a report
// interval, and Idle only after the commanded motion has finished.
const (
	ackTimeout       = 5 * time.Second
	statusTimeout    = 1500 * time.Millisecond
	idleTimeout      = 10 * time.Second
	idlePollInterval = 100 * time.Millisecond
)

// Control bytes understood by grbl-compatible firmware outside the line
// protocol.
const (
	softResetByte = 0x18 // Ctrl-X, immediate firmware reset
	jogCancelByte = 0x85 // aborts the current $J jog motion
)

// Link is the device surface the motion engine depends on. SerialLink is
// the production implementation; tests substitute their own.
type Link interface {
	SendRelativeMove(move MoveVector) error
	QueryStatus(timeout time.Duration) (*MachineStatus, error)
}

// SerialLink drives the line-oriented command/acknowledge protocol of a
// grbl/FluidNC-style motion controller over a byte stream. A reader
// goroutine feeds incoming lines into a channel so every wait can carry
// its own deadline.
type SerialLink struct {
	writeMu  sync.Mutex
	conn     io.ReadWriteCloser
	feedRate float64

	lines      chan string
	readerDone chan struct{}
	quit       chan struct{}
	closeOnce  sync.Once
}

// NewSerialLink wraps conn. feedRate is the F parameter applied to linear
// moves, in mm/min; non-positive values fall back to the default.
func NewSerialLink(conn io.ReadWriteCloser, feedRate float64) *SerialLink {
	if feedRate <= 0 {
		feedRate = DefaultParams().FeedRate
	}
	l := &SerialLink{
		conn:       conn,
		feedRate:   feedRate,
		lines:      make(chan string, 64),
		readerDone: make(chan struct{}),
		quit:       make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *SerialLink) readLoop() {
	defer close(l.readerDone)
	scanner := bufio.NewScanner(l.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		log.WithField("line", line).Trace("serial recv")
		select {
		case l.lines <- line:
		case <-l.quit:
			return
		}
	}
}

// Close shuts the underlying stream down and terminates the reader.
func (l *SerialLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.quit)
		err = l.conn.Close()
	})
	return err
}

// WriteCommand sends one ASCII command line, newline-terminated.
func (l *SerialLink) WriteCommand(command string) error {
	log.WithField("command", command).Debug("serial send")
	return l.WriteRaw([]byte(strings.TrimSpace(command) + "\n"))
}

// WriteRaw sends bytes verbatim, for the control codes that live outside
// the line protocol.
func (l *SerialLink) WriteRaw(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.conn.Write(data); err != nil {
		return errLink(err, "Serial write failed: %v", err)
	}
	return nil
}

// WaitForAck reads lines until the controller acknowledges with "ok" or
// reports an error. Blank lines and unsolicited chatter are skipped without
// restarting the timeout window.
func (l *SerialLink) WaitForAck(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case line := <-l.lines:
			if line == "" {
				continue
			}
			if strings.EqualFold(line, "ok") {
				return nil
			}
			if hasPrefixFold(line, "error") {
				return errControllerf("Controller reported: %s", line)
			}
		case <-l.readerDone:
			return errLink(io.EOF, "Serial read failed: connection closed")
		case <-timer.C:
			return errTimeoutf("Timeout waiting for controller acknowledgement.")
		}
	}
}

// QueryStatus sends a single ? query and scans responses for a status
// report. Lines that do not match the report grammar are skipped. Returns
// (nil, nil) when no matching line arrives before the timeout.
func (l *SerialLink) QueryStatus(timeout time.Duration) (*MachineStatus, error) {
	if err := l.WriteRaw([]byte("?\n")); err != nil {
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case line := <-l.lines:
			if status, ok := parseStatusLine(line); ok {
				return status, nil
			}
		case <-l.readerDone:
			return nil, errLink(io.EOF, "Serial read failed: connection closed")
		case <-timer.C:
			return nil, nil
		}
	}
}

// SendRelativeMove executes one relative linear move: mm units, relative
// positioning, the move itself, then absolute positioning restored, waiting
// for an acknowledgement after each command and finally for the controller
// to return to Idle. Near-zero vectors are a no-op.
func (l *SerialLink) SendRelativeMove(move MoveVector) error {
	if move.IsZero(moveEpsilonMM) {
		return nil
	}
	if err := l.commandAck("G21"); err != nil {
		return err
	}
	if err := l.commandAck("G91"); err != nil {
		return err
	}
	var parts []string
	for _, av := range move.Components() {
		if math.Abs(av.Value) >= moveEpsilonMM {
			parts = append(parts, fmt.Sprintf("%s%.4f", av.Axis, av.Value))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	command := "G1 " + strings.Join(parts, " ") + fmt.Sprintf(" F%.0f", l.feedRate)
	if err := l.commandAck(command); err != nil {
		return err
	}
	if err := l.commandAck("G90"); err != nil {
		return err
	}
	return l.waitForIdle(idleTimeout)
}

func (l *SerialLink) commandAck(command string) error {
	if err := l.WriteCommand(command); err != nil {
		return err
	}
	return l.WaitForAck(ackTimeout)
}

func (l *SerialLink) waitForIdle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := l.QueryStatus(statusTimeout)
		if err != nil {
			return err
		}
		if status != nil && status.Idle() {
			return nil
		}
		time.Sleep(idlePollInterval)
	}
	return errTimeoutf("Controller did not return to IDLE state in time.")
}

// Jog issues a $J jog of the given displacement at feedRate mm/min. The
// motion can be aborted with JogCancel.
func (l *SerialLink) Jog(move MoveVector, feedRate float64) error {
	if move.IsZero(moveEpsilonMM) {
		return nil
	}
	var parts []string
	for _, av := range move.Components() {
		if math.Abs(av.Value) >= moveEpsilonMM {
			parts = append(parts, fmt.Sprintf("%s%.3f", av.Axis, av.Value))
		}
	}
	return l.WriteCommand(fmt.Sprintf("$J=G91 G21 %s F%g", strings.Join(parts, " "), feedRate))
}

// JogCancel aborts the jog in progress, if any.
func (l *SerialLink) JogCancel() error {
	return l.WriteRaw([]byte{jogCancelByte})
}

// SoftReset sends the firmware soft-reset control byte.
func (l *SerialLink) SoftReset() error {
	return l.WriteRaw([]byte{softResetByte})
}

// Home runs the full homing cycle.
func (l *SerialLink) Home() error {
	return l.WriteCommand("$H")
}

// HomeAxis homes a single axis ($HX, $HY, $HZ).
func (l *SerialLink) HomeAxis(axis string) error {
	return l.WriteCommand("$H" + strings.ToUpper(axis))
}

// Unlock clears a firmware alarm lock.
func (l *SerialLink) Unlock() error {
	return l.WriteCommand("$X")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
