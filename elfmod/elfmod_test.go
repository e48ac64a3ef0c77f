package elfmod

import "testing"

func TestCStringRoundTrip(t *testing.T) {
	b, err := CString("mark:41")
	if err != nil {
		t.Fatalf("CString: %v", err)
	}
	if len(b) != 8 || b[len(b)-1] != 0 {
		t.Fatalf("unexpected encoding: %v", b)
	}
	if got := GoString(CStringPtr(b)); got != "mark:41" {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestCStringRejectsEmbeddedNUL(t *testing.T) {
	if _, err := CString("a\x00b"); err == nil {
		t.Fatal("expected error for embedded NUL")
	}
}

func TestGoStringZero(t *testing.T) {
	if got := GoString(0); got != "" {
		t.Fatalf("GoString(0) = %q, want empty", got)
	}
}

func TestCStringPtrEmpty(t *testing.T) {
	if got := CStringPtr(nil); got != 0 {
		t.Fatalf("CStringPtr(nil) = %#x, want 0", got)
	}
}
