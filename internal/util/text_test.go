package util

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "trims and uppercases", input: "  Коледино ", want: "КОЛЕДИНО"},
		{name: "collapses spaces", input: "Санкт-Петербург   (Уткина  Заводь)", want: "САНКТ-ПЕТЕРБУРГ (УТКИНА ЗАВОДЬ)"},
		{name: "folds yo", input: "Подольск Ёлочный", want: "ПОДОЛЬСК ЕЛОЧНЫЙ"},
		{name: "strips quotes", input: `Склад "Маркетплейс"`, want: "СКЛАД МАРКЕТПЛЕЙС"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeName(tc.input); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode(" abc-123 /x "); got != "ABC-123/X" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeCode("206837*2"); got != "2068372" {
		t.Fatalf("got %q", got)
	}
}

func TestStripParenthetical(t *testing.T) {
	if got := StripParenthetical("Казань (Зеленодольск)"); got != "Казань" {
		t.Fatalf("got %q", got)
	}
	if got := StripParenthetical("Коледино"); got != "Коледино" {
		t.Fatalf("got %q", got)
	}
}
