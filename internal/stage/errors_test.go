package stage

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{errStagef("stage"), KindStage},
		{errLink(io.EOF, "link"), KindLink},
		{errControllerf("controller"), KindController},
		{errTimeoutf("timeout"), KindTimeout},
		{errCalibrationf("calibration"), KindCalibration},
	}
	for _, tc := range cases {
		kind, ok := KindOf(tc.err)
		if !ok || kind != tc.kind {
			t.Errorf("KindOf(%v) = %v/%v, want %v/true", tc.err, kind, ok, tc.kind)
		}
	}
}

func TestKindOfForeignError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("KindOf claimed a foreign error")
	}
	if _, ok := KindOf(nil); ok {
		t.Error("KindOf claimed nil")
	}
}

func TestKindOfWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", errTimeoutf("deadline"))
	kind, ok := KindOf(wrapped)
	if !ok || kind != KindTimeout {
		t.Errorf("KindOf(wrapped) = %v/%v, want KindTimeout/true", kind, ok)
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := errLink(io.EOF, "Serial read failed: connection closed")
	if !errors.Is(err, io.EOF) {
		t.Error("link error does not unwrap to its cause")
	}
	if err.Error() != "Serial read failed: connection closed" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestMoveVectorIsZero(t *testing.T) {
	if !(MoveVector{}).IsZero(moveEpsilonMM) {
		t.Error("zero vector not zero")
	}
	if !(MoveVector{X: 1e-9, B: -1e-9}).IsZero(moveEpsilonMM) {
		t.Error("sub-epsilon vector not zero")
	}
	if (MoveVector{A: 0.5}).IsZero(moveEpsilonMM) {
		t.Error("rotary displacement ignored")
	}
}
