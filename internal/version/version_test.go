package version

import "testing"

func TestString(t *testing.T) {
	got := String("aggregate")
	want := "aggregate dev (commit unknown, built unknown)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
