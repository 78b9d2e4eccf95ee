package envutil

import (
	"reflect"
	"testing"

	"cloud.google.com/go/civil"
)

func TestReaders(t *testing.T) {
	t.Setenv("X_INT", "7")
	t.Setenv("X_BAD_INT", "seven")
	t.Setenv("X_FLOAT", "1e6")
	t.Setenv("X_BOOL", "on")
	t.Setenv("X_LIST", "19, 46,x,48")
	t.Setenv("X_DATE", "2021-12-15")
	t.Setenv("X_EMPTY", "  ")

	if got := Int("X_INT", 1); got != 7 {
		t.Fatalf("Int: want=7 got=%d", got)
	}
	if got := Int("X_BAD_INT", 3); got != 3 {
		t.Fatalf("Int fallback: want=3 got=%d", got)
	}
	if got := Int64("X_INT", 0); got != 7 {
		t.Fatalf("Int64: want=7 got=%d", got)
	}
	if got := Float("X_FLOAT", 0); got != 1e6 {
		t.Fatalf("Float: want=1e6 got=%v", got)
	}
	if got := Bool("X_BOOL", false); !got {
		t.Fatalf("Bool: want=true got=false")
	}
	if got := Bool("X_EMPTY", true); !got {
		t.Fatalf("Bool fallback: want=true got=false")
	}
	if got := IntList("X_LIST", nil); !reflect.DeepEqual(got, []int{19, 46, 48}) {
		t.Fatalf("IntList: got=%v", got)
	}
	want := civil.Date{Year: 2021, Month: 12, Day: 15}
	if got := Date("X_DATE", civil.Date{}); got != want {
		t.Fatalf("Date: want=%v got=%v", want, got)
	}
	if got := String("X_EMPTY", "def"); got != "def" {
		t.Fatalf("String fallback: want=def got=%q", got)
	}
}
