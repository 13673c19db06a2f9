package core

import (
	"testing"
)

func TestRandomAddress(t *testing.T) {
	for i := 0; i < 10; i++ {
		address, err := RandomAddress()
		if err != nil {
			t.Fatalf("Failed to generate address: %v", err)
		}

		if len(address) != 42 {
			t.Errorf("Expected address length 42, got %d", len(address))
		}

		if address[:2] != AddressPrefix {
			t.Errorf("Expected prefix %s, got %s", AddressPrefix, address[:2])
		}

		if !ValidAddress(address) {
			t.Errorf("Generated address %s is not recognized as valid", address)
		}
	}
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    bool
	}{
		{
			name:    "Valid address",
			address: "0x4A3BC48C156384f9564Fd65A53a2f3D534D8f2b7",
			want:    true,
		},
		{
			name:    "Missing prefix",
			address: "4A3BC48C156384f9564Fd65A53a2f3D534D8f2b700",
			want:    false,
		},
		{
			name:    "Too short",
			address: "0x123",
			want:    false,
		},
		{
			name:    "Too long",
			address: "0x4A3BC48C156384f9564Fd65A53a2f3D534D8f2b7ff",
			want:    false,
		},
		{
			name:    "Non-hex characters",
			address: "0xZZ3BC48C156384f9564Fd65A53a2f3D534D8f2b7",
			want:    false,
		},
		{
			name:    "Empty",
			address: "",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidAddress(tt.address); got != tt.want {
				t.Errorf("ValidAddress(%q) = %v, want %v", tt.address, got, tt.want)
			}
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	mixed := "0x4A3BC48C156384f9564Fd65A53a2f3D534D8f2b7"
	want := "0x4a3bc48c156384f9564fd65a53a2f3d534d8f2b7"

	if got := NormalizeAddress(mixed); got != want {
		t.Errorf("NormalizeAddress(%q) = %q, want %q", mixed, got, want)
	}
}
