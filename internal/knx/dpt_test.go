package knx

import (
	"math"
	"testing"
)

func TestDPT1RoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		got, err := DecodeDPT1(EncodeDPT1(v))
		if err != nil || got != v {
			t.Errorf("DPT1 round trip %v = %v, err %v", v, got, err)
		}
	}
	if _, err := DecodeDPT1(nil); err == nil {
		t.Error("empty data should fail")
	}
}

func TestDPT5Scaling(t *testing.T) {
	tests := []struct {
		percent float64
		raw     byte
	}{
		{0, 0},
		{100, 255},
		{50, 128},
	}
	for _, tt := range tests {
		data := EncodeDPT5(tt.percent)
		if data[0] != tt.raw {
			t.Errorf("EncodeDPT5(%v) = 0x%02X, want 0x%02X", tt.percent, data[0], tt.raw)
		}
		back, err := DecodeDPT5(data)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(back-tt.percent) > 0.5 {
			t.Errorf("DecodeDPT5 = %v, want ~%v", back, tt.percent)
		}
	}

	// Out-of-range values clamp.
	if EncodeDPT5(150)[0] != 255 {
		t.Error("values above 100% should clamp")
	}
	if EncodeDPT5(-5)[0] != 0 {
		t.Error("negative values should clamp")
	}
}

func TestDPT9RoundTrip(t *testing.T) {
	values := []float64{0, 21.5, -10.2, 670000, -671088, 0.01}
	for _, v := range values {
		data, err := EncodeDPT9(v)
		if err != nil {
			t.Fatalf("EncodeDPT9(%v): %v", v, err)
		}
		back, err := DecodeDPT9(data)
		if err != nil {
			t.Fatalf("DecodeDPT9: %v", err)
		}
		// 2-byte float resolution degrades with magnitude.
		tolerance := math.Max(math.Abs(v)*0.01, 0.01)
		if math.Abs(back-v) > tolerance {
			t.Errorf("DPT9 round trip %v = %v", v, back)
		}
	}

	if _, err := EncodeDPT9(1e9); err == nil {
		t.Error("out-of-range value should fail")
	}
	if _, err := DecodeDPT9([]byte{0x7F, 0xFF}); err == nil {
		t.Error("0x7FFF sentinel should fail")
	}
}

func TestDPT12And13(t *testing.T) {
	if data, err := EncodeDPT12(4000000000); err != nil {
		t.Fatal(err)
	} else if v, _ := DecodeDPT12(data); v != 4000000000 { //nolint:errcheck // encoded above
		t.Errorf("DPT12 round trip = %d", v)
	}
	if _, err := EncodeDPT12(-1); err == nil {
		t.Error("negative DPT12 should fail")
	}

	if data, err := EncodeDPT13(-123456); err != nil {
		t.Fatal(err)
	} else if v, _ := DecodeDPT13(data); v != -123456 { //nolint:errcheck // encoded above
		t.Errorf("DPT13 round trip = %d", v)
	}
	if _, err := EncodeDPT13(math.MaxInt64); err == nil {
		t.Error("oversized DPT13 should fail")
	}
}

func TestDPT14RoundTrip(t *testing.T) {
	data := EncodeDPT14(1234.5)
	back, err := DecodeDPT14(data)
	if err != nil || math.Abs(back-1234.5) > 0.01 {
		t.Errorf("DPT14 round trip = %v, err %v", back, err)
	}
}

func TestDPT16(t *testing.T) {
	data := EncodeDPT16("Hello KNX")
	if len(data) != 14 {
		t.Fatalf("DPT16 must be 14 bytes, got %d", len(data))
	}
	back, err := DecodeDPT16(data)
	if err != nil || back != "Hello KNX" {
		t.Errorf("DPT16 round trip = %q, err %v", back, err)
	}

	// Overlong strings truncate at 14 characters.
	long, err := DecodeDPT16(EncodeDPT16("this string is far too long"))
	if err != nil {
		t.Fatal(err)
	}
	if len(long) != 14 {
		t.Errorf("truncated length = %d", len(long))
	}
}
