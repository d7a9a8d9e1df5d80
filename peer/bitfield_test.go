package peer

import "testing"

func TestBitfieldHasMSBFirst(t *testing.T) {
	bf := Bitfield{0b10100000, 0b00010000}
	cases := map[int]bool{
		0: true, 1: false, 2: true, 3: false,
		4: false, 5: false, 6: false, 7: false,
		11: true, 12: false,
	}
	for index, want := range cases {
		if got := bf.Has(index); got != want {
			t.Errorf("Has(%d) = %v, want %v", index, got, want)
		}
	}
}

func TestBitfieldSet(t *testing.T) {
	bf := make(Bitfield, 1)
	bf.Set(0)
	bf.Set(7)
	if bf[0] != 0b10000001 {
		t.Fatalf("got %08b", bf[0])
	}
}

func TestBitfieldEmpty(t *testing.T) {
	if !(Bitfield{0, 0}).Empty() {
		t.Fatal("expected all-zero bitfield to be empty")
	}
	if (Bitfield{0, 1}).Empty() {
		t.Fatal("expected non-zero bitfield to be non-empty")
	}
}

func TestBitfieldHasOutOfRangeIsFalse(t *testing.T) {
	bf := make(Bitfield, 1)
	if bf.Has(100) {
		t.Fatal("expected out-of-range Has to be false, not panic")
	}
}
