package textnorm

import "testing"

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Concluído", "concluido"},
		{"  EM   ANDAMENTO ", "em andamento"},
		{"Período", "periodo"},
		{"Done", "done"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEqualAndIn(t *testing.T) {
	if !Equal("Em Revisão", "em revisao") {
		t.Error("expected diacritics-insensitive equality")
	}
	if Equal("Done", "Doing") {
		t.Error("different labels must not be equal")
	}
	if !In("FINALIZADO", "concluido", "finalizado") {
		t.Error("expected FINALIZADO to match folded candidate")
	}
	if In("aberto", "concluido", "finalizado") {
		t.Error("unexpected match")
	}
}
