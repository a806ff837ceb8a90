package util

import (
	"testing"
)

func TestSanitizeDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "Empty",
			doc:  "",
			want: "",
		},
		{
			name: "Digits only",
			doc:  "52998224725",
			want: "52998224725",
		},
		{
			name: "Formatted CPF",
			doc:  "529.982.247-25",
			want: "52998224725",
		},
		{
			name: "Whitespace and letters",
			doc:  " 529 982 247 25 cpf",
			want: "52998224725",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeDocument(tt.doc); got != tt.want {
				t.Errorf("SanitizeDocument(%q) = %q, want %q", tt.doc, got, tt.want)
			}
		})
	}
}

func TestValidCPF(t *testing.T) {
	tests := []struct {
		name string
		cpf  string
		want bool
	}{
		{
			name: "Empty",
			cpf:  "",
			want: false,
		},
		{
			name: "Formatted CPF",
			cpf:  "529.982.247-25",
			want: true,
		},
		{
			name: "Bare CPF",
			cpf:  "52998224725",
			want: true,
		},
		{
			name: "Too short",
			cpf:  "5299822472",
			want: false,
		},
		{
			name: "CNPJ length",
			cpf:  "11222333000181",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidCPF(tt.cpf); got != tt.want {
				t.Errorf("ValidCPF(%q) = %t, want %t", tt.cpf, got, tt.want)
			}
		})
	}
}
