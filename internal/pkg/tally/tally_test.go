package tally

import (
	"errors"
	"testing"
)

func TestTally(t *testing.T) {
	a := New("vaccination")
	a.Users("missing_status", 2, 10)
	a.Users("missing_status", 1, 9)
	a.Rows("parsed", 0, 9)

	if got := a.Dropped("missing_status"); got != 3 {
		t.Fatalf("Dropped: want=3 got=%d", got)
	}
	s, ok := a.Find("missing_status")
	if !ok || s.Remaining != 9 || s.Unit != "users" {
		t.Fatalf("Find: got=%+v ok=%v", s, ok)
	}

	b := New("tests")
	b.Rows("unknown_result", 4, 20)
	a.Merge(b, nil)
	if len(a.Steps) != 4 || a.Steps[3].Stage != "tests" {
		t.Fatalf("Merge: got=%+v", a.Steps)
	}

	var nilTally *Tally
	nilTally.Users("x", 1, 1)
	if nilTally.Dropped("x") != 0 {
		t.Fatalf("nil tally should report zero")
	}
}

func TestSkipMerges(t *testing.T) {
	bad := errors.New("bad date")
	a := New("vaccination")
	a.Skip(bad)
	a.Skip(nil)
	b := New("extract")
	b.Merge(a)
	if len(b.Skipped) != 1 || b.Skipped[0] != bad {
		t.Fatalf("Skipped: want=[bad date] got=%v", b.Skipped)
	}
}
