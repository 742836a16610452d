package prompt

import (
	"fmt"
	"testing"
)

func TestConfirmWithForce(t *testing.T) {
	ok, err := ConfirmWithForce("Delete seqnos 10 and above?", true)
	if err != nil || !ok {
		t.Fatalf("ConfirmWithForce(force) = %v, %v", ok, err)
	}
}

func TestIsAborted(t *testing.T) {
	if !IsAborted(fmt.Errorf("purge: %w", ErrAborted)) {
		t.Error("IsAborted() = false for a wrapped ErrAborted")
	}
	if IsAborted(ErrNotInteractive) {
		t.Error("IsAborted() = true for ErrNotInteractive")
	}
}
