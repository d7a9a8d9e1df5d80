package bterr

import (
	"errors"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := Wrap("peer: handshake", ProtocolViolation, errors.New("bad pstr"))
	kind, ok := KindOf(err)
	if !ok || kind != ProtocolViolation {
		t.Fatalf("KindOf = %v, %v", kind, ok)
	}
	if !Is(err, ProtocolViolation) {
		t.Fatal("Is returned false for matching kind")
	}
	if Is(err, IO) {
		t.Fatal("Is returned true for mismatched kind")
	}
}

func TestKindOfUnrelatedError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatal("expected ok=false for a plain error")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap("op", IO, nil) != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
}
