package stage

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// estimatorFunc adapts a function to the Estimator interface.
type estimatorFunc func(a, b *image.Gray) (float64, float64, error)

func (f estimatorFunc) EstimateShift(a, b *image.Gray) (float64, float64, error) {
	return f(a, b)
}

func constShift(dx, dy float64) Estimator {
	return estimatorFunc(func(a, b *image.Gray) (float64, float64, error) {
		return dx, dy, nil
	})
}

// moveResult captures one MovementFinished notification.
type moveResult struct {
	ok  bool
	msg string
}

// notifyRecorder collects every notification for later assertions.
type notifyRecorder struct {
	mu           sync.Mutex
	statuses     []string
	started      int
	finished     []moveResult
	calibrations [][2]float64
	finishedCh   chan moveResult
}

func newNotifyRecorder() *notifyRecorder {
	return &notifyRecorder{finishedCh: make(chan moveResult, 16)}
}

func (r *notifyRecorder) notifier() Notifier {
	return Notifier{
		StatusMessage: func(text string) {
			r.mu.Lock()
			r.statuses = append(r.statuses, text)
			r.mu.Unlock()
		},
		MovementStarted: func() {
			r.mu.Lock()
			r.started++
			r.mu.Unlock()
		},
		MovementFinished: func(ok bool, msg string) {
			r.mu.Lock()
			r.finished = append(r.finished, moveResult{ok, msg})
			r.mu.Unlock()
			r.finishedCh <- moveResult{ok, msg}
		},
		CalibrationChanged: func(x, y float64) {
			r.mu.Lock()
			r.calibrations = append(r.calibrations, [2]float64{x, y})
			r.mu.Unlock()
		},
	}
}

func (r *notifyRecorder) waitFinished(t *testing.T, timeout time.Duration) moveResult {
	t.Helper()
	select {
	case res := <-r.finishedCh:
		return res
	case <-time.After(timeout):
		t.Fatal("timed out waiting for MovementFinished")
		return moveResult{}
	}
}

func (r *notifyRecorder) hasStatus(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func (r *notifyRecorder) startedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// scriptLink is an in-process Link with a scripted position response.
type scriptLink struct {
	mu     sync.Mutex
	pos    Position
	frozen bool // when set, moves do not change the reported position
	moves  []MoveVector
	onMove func()
}

func (l *scriptLink) SendRelativeMove(move MoveVector) error {
	l.mu.Lock()
	l.moves = append(l.moves, move)
	if !l.frozen {
		l.pos.X += move.X
		l.pos.Y += move.Y
	}
	onMove := l.onMove
	l.mu.Unlock()
	if onMove != nil {
		onMove()
	}
	return nil
}

func (l *scriptLink) QueryStatus(time.Duration) (*MachineStatus, error) {
	l.mu.Lock()
	pos := l.pos
	l.mu.Unlock()
	return &MachineStatus{State: "Idle", Position: &pos}, nil
}

func (l *scriptLink) position() Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos
}

func (l *scriptLink) moveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.moves)
}

// grayFrame returns a small frame whose first pixel carries an index so a
// scripted estimator can recover which snapshot it was handed.
func grayFrame(index int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	img.Pix[0] = byte(index)
	return img
}

// recordingConn wraps one end of a pipe and records everything written.
type recordingConn struct {
	net.Conn
	mu     sync.Mutex
	writes bytes.Buffer
}

func (c *recordingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.writes.Write(p)
	c.mu.Unlock()
	return c.Conn.Write(p)
}

func (c *recordingConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.writes.Bytes()...)
}

// writtenLines splits the recorded bytes into newline-terminated commands.
func (c *recordingConn) writtenLines() []string {
	var lines []string
	for _, l := range strings.Split(string(c.written()), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// newTestLink wires a SerialLink to a scripted device over an in-memory
// pipe. handle receives each command line and returns the response lines.
func newTestLink(t *testing.T, handle func(line string) []string) (*SerialLink, *recordingConn) {
	t.Helper()
	cli, dev := net.Pipe()
	rec := &recordingConn{Conn: cli}
	go func() {
		scanner := bufio.NewScanner(dev)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			for _, resp := range handle(line) {
				if _, err := dev.Write([]byte(resp + "\n")); err != nil {
					return
				}
			}
		}
	}()
	link := NewSerialLink(rec, DefaultParams().FeedRate)
	t.Cleanup(func() {
		link.Close()
		dev.Close()
	})
	return link, rec
}

// grblSim emulates a grbl controller behind the line protocol: it tracks
// position from G1 moves, acknowledges everything, and reports Idle.
type grblSim struct {
	mu     sync.Mutex
	pos    Position
	g1     []string
	onMove func(Position)
}

func (s *grblSim) handle(line string) []string {
	if line == "?" {
		s.mu.Lock()
		resp := fmt.Sprintf("<Idle|MPos:%.4f,%.4f,%.4f|FS:0,0>", s.pos.X, s.pos.Y, s.pos.Z)
		s.mu.Unlock()
		return []string{resp}
	}
	if strings.HasPrefix(line, "G1 ") {
		s.mu.Lock()
		s.g1 = append(s.g1, line)
		for _, word := range strings.Fields(line)[1:] {
			value, err := strconv.ParseFloat(word[1:], 64)
			if err != nil {
				continue
			}
			switch word[0] {
			case 'X':
				s.pos.X += value
			case 'Y':
				s.pos.Y += value
			case 'Z':
				s.pos.Z += value
			}
		}
		pos := s.pos
		onMove := s.onMove
		s.mu.Unlock()
		if onMove != nil {
			onMove(pos)
		}
		return []string{"ok"}
	}
	return []string{"ok"}
}

func (s *grblSim) g1Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.g1...)
}

func (s *grblSim) position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}
