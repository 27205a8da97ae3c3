package capture

import "testing"

// TestWarmUpFilterWaitsForSubMTUPacket: bytes are withheld until one TCP
// payload strictly smaller than 1460 bytes has been observed; that
// triggering packet is itself withheld, and every packet after it is
// admitted, full-MTU or not.
func TestWarmUpFilterWaitsForSubMTUPacket(t *testing.T) {
	var f warmUpFilter

	lengths := []int{1460, 1460, 800, 1460, 12}
	var admitted []bool
	for _, n := range lengths {
		admitted = append(admitted, f.Admit(n))
	}

	want := []bool{false, false, false, true, true}
	for i := range want {
		if admitted[i] != want[i] {
			t.Fatalf("packet %d (len %d): admitted=%v, want %v", i, lengths[i], admitted[i], want[i])
		}
	}
}

// TestWarmUpFilterIgnoresZeroLength checks that a zero-length payload
// never arms the filter: empty segments are discarded upstream of the
// warm-up check, and Admit should not treat 0 as sub-MTU either.
func TestWarmUpFilterIgnoresZeroLength(t *testing.T) {
	var f warmUpFilter
	if f.Admit(0) {
		t.Fatal("zero-length payload should never be admitted")
	}
	if f.armed {
		t.Fatal("zero-length payload should not arm the filter")
	}
}
