package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := NewAt(base)
	b := NewAt(base.Add(time.Millisecond))
	if !(a < b) {
		t.Fatalf("expected %s < %s", a, b)
	}
	if !Valid(a) || !Valid(New()) {
		t.Fatalf("expected generated ids to be valid")
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "../../etc/passwd", "01HZZZZZZZZZZZZZZZZZZZZZZZZ"} {
		if Valid(in) {
			t.Fatalf("expected %q to be invalid", in)
		}
	}
}
