package phase

import (
	"errors"
	"testing"
)

func TestHappyPath(t *testing.T) {
	path := []State{Ready, Claimed, DevOpen, DevClosed, TestOpen, TestClosed, ReviewOpen, Completed}
	for i := 0; i < len(path)-1; i++ {
		if err := Validate(path[i], path[i+1]); err != nil {
			t.Fatalf("%s -> %s: %v", path[i], path[i+1], err)
		}
	}
}

func TestSkippingStatesRejected(t *testing.T) {
	cases := [][2]State{
		{Ready, DevOpen},
		{Claimed, TestOpen},
		{DevOpen, TestOpen},
		{DevClosed, ReviewOpen},
		{TestOpen, ReviewOpen},
		{Completed, DevOpen},
		{Completed, Ready},
	}
	for _, c := range cases {
		err := Validate(c[0], c[1])
		if !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s -> %s: want ErrIllegalTransition, got %v", c[0], c[1], err)
		}
	}
}

func TestDemotionRules(t *testing.T) {
	if err := Validate(ReviewOpen, DevOpen); err != nil {
		t.Fatalf("demotion to dev_open should be legal: %v", err)
	}
	if err := Validate(ReviewFailed, DevOpen); err != nil {
		t.Fatalf("review_failed -> dev_open should be legal: %v", err)
	}
	// Never to test_open, regardless of history.
	if err := Validate(ReviewOpen, TestOpen); !errors.Is(err, ErrInvalidDemotionDirection) {
		t.Fatalf("review_open -> test_open: want ErrInvalidDemotionDirection, got %v", err)
	}
	if err := Validate(ReviewFailed, TestOpen); !errors.Is(err, ErrInvalidDemotionDirection) {
		t.Fatalf("review_failed -> test_open: want ErrInvalidDemotionDirection, got %v", err)
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("review_open"); err != nil {
		t.Fatalf("parse review_open: %v", err)
	}
	if _, err := Parse("limbo"); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("want ErrUnknownState, got %v", err)
	}
}

func TestThreadType(t *testing.T) {
	if got := DevOpen.ThreadType(); got != ThreadDev {
		t.Fatalf("dev_open thread = %q", got)
	}
	if got := ReviewOpen.ThreadType(); got != ThreadReview {
		t.Fatalf("review_open thread = %q", got)
	}
	if got := Claimed.ThreadType(); got != "" {
		t.Fatalf("claimed should hold no thread, got %q", got)
	}
}
