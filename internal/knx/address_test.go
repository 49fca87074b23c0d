package knx

import (
	"errors"
	"testing"
)

func TestParseGroupAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    GroupAddress
		wantErr bool
	}{
		{"simple", "1/2/3", GroupAddress{1, 2, 3}, false},
		{"limits", "31/7/255", GroupAddress{31, 7, 255}, false},
		{"zeros", "0/0/0", GroupAddress{0, 0, 0}, false},
		{"main too large", "32/0/0", GroupAddress{}, true},
		{"middle too large", "0/8/0", GroupAddress{}, true},
		{"sub too large", "0/0/256", GroupAddress{}, true},
		{"two level", "1/2", GroupAddress{}, true},
		{"garbage", "a/b/c", GroupAddress{}, true},
		{"empty", "", GroupAddress{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGroupAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGroupAddress(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidGroupAddress) {
					t.Errorf("error should wrap ErrInvalidGroupAddress: %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseGroupAddress(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGroupAddressUint16RoundTrip(t *testing.T) {
	addrs := []GroupAddress{
		{0, 0, 0},
		{1, 2, 3},
		{31, 7, 255},
		{15, 3, 128},
	}
	for _, ga := range addrs {
		t.Run(ga.String(), func(t *testing.T) {
			back := GroupAddressFromUint16(ga.ToUint16())
			if back != ga {
				t.Errorf("round trip %v -> %v", ga, back)
			}
		})
	}
}
