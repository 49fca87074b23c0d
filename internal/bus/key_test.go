package bus

import (
	"errors"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		internal bool
		wantErr  bool
	}{
		{"valid group address", "1/2/3", false, false},
		{"group address limits", "31/7/255", false, false},
		{"main out of range", "32/0/0", false, true},
		{"middle out of range", "0/8/0", false, true},
		{"sub out of range", "0/0/256", false, true},
		{"two levels", "1/2", false, true},
		{"valid iko", "IKO:n1:A1", true, false},
		{"iko with hash and dash", "IKO:12_Timer-#x:A1", true, false},
		{"iko missing port", "IKO:scope", true, true},
		{"iko bad scope char", "IKO:a b:A1", true, true},
		{"block shorthand rejected", "BLOCK:inst:A1", false, true},
		{"empty", "", false, true},
		{"garbage", "not-a-key", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			internal, err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("error should wrap ErrInvalidKey, got %v", err)
			}
			if err == nil && internal != tt.internal {
				t.Errorf("internal = %v, want %v", internal, tt.internal)
			}
		})
	}
}

func TestNormalizeCaseInsensitive(t *testing.T) {
	if Normalize("IKO:Timer:A1") != Normalize("iko:timer:a1") {
		t.Error("keys should fold case-insensitively")
	}
	if Normalize(" 1/2/3 ") != "1/2/3" {
		t.Error("keys should be trimmed")
	}
}

func TestSplitBlockShorthand(t *testing.T) {
	inst, port, err := SplitBlockShorthand("BLOCK:10003_NotGate_0:A1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst != "10003_NotGate_0" || port != "A1" {
		t.Errorf("got (%q, %q)", inst, port)
	}

	if _, _, err := SplitBlockShorthand("BLOCK:noport"); err == nil {
		t.Error("expected error for missing port")
	}
	if _, _, err := SplitBlockShorthand("1/2/3"); err == nil {
		t.Error("expected error for non-shorthand key")
	}
}

func TestIKOKeySanitises(t *testing.T) {
	got := IKOKey("12_Not Gate", "A1")
	if got != "IKO:12_Not_Gate:A1" {
		t.Errorf("IKOKey = %q", got)
	}
	if _, err := ValidateKey(got); err != nil {
		t.Errorf("derived key should validate: %v", err)
	}
}
