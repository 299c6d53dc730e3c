package product

import (
	"testing"

	"stocktracker/internal"
)

func TestBaseArticle(t *testing.T) {
	cases := []struct {
		name    string
		article string
		want    string
	}{
		{name: "plain article is its own base", article: "ABC-123", want: "ABC-123"},
		{name: "bundle slash", article: "ABC-123/2", want: "ABC-123"},
		{name: "bundle star", article: "abc-123*3", want: "ABC-123"},
		{name: "channel suffix", article: "ABC-123-FBS", want: "ABC-123"},
		{name: "cyrillic channel suffix", article: "АРТ-55-ФБС", want: "АРТ-55"},
		{name: "suffix after bundle", article: "ABC-123-FBS/2", want: "ABC-123"},
		{name: "case folded", article: " abc-123 ", want: "ABC-123"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BaseArticle(tc.article); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestResolveMergesVariants(t *testing.T) {
	r := NewResolver(internal.NewAnomalyLog(10))
	r.Register(internal.ProductHints{Article: "ABC-123", NmID: 111, Barcode: "2000000000017"})
	r.Register(internal.ProductHints{Article: "ABC-123/2", NmID: 111, Barcode: "2000000000024"})
	r.Register(internal.ProductHints{Article: "ABC-123-FBS", Barcode: "2000000000031"})
	r.Freeze()

	a := r.Resolve(internal.ProductHints{Article: "ABC-123"})
	b := r.Resolve(internal.ProductHints{Article: "ABC-123/2"})
	c := r.Resolve(internal.ProductHints{Barcode: "2000000000031"})

	if a.BaseArticle != "ABC-123" || b.BaseArticle != "ABC-123" || c.BaseArticle != "ABC-123" {
		t.Fatalf("variants did not merge: %q %q %q", a.BaseArticle, b.BaseArticle, c.BaseArticle)
	}
	if a.NmID != 111 {
		t.Fatalf("nmId not carried: %d", a.NmID)
	}
	if len(a.Variants) != 3 {
		t.Fatalf("want 3 variants, got %v", a.Variants)
	}
	if len(a.Barcodes) != 3 {
		t.Fatalf("want 3 barcodes, got %v", a.Barcodes)
	}
}

func TestResolveBarcodeBridge(t *testing.T) {
	r := NewResolver(internal.NewAnomalyLog(10))
	r.Register(internal.ProductHints{Article: "XYZ-9", Barcode: "4600000000012"})
	r.Freeze()

	got := r.Resolve(internal.ProductHints{Barcode: "4600000000012"})
	if got.BaseArticle != "XYZ-9" {
		t.Fatalf("barcode not bridged: %q", got.BaseArticle)
	}
}

func TestResolveUnknownKeepsLiteral(t *testing.T) {
	log := internal.NewAnomalyLog(10)
	r := NewResolver(log)
	r.Freeze()

	got := r.Resolve(internal.ProductHints{Barcode: "4600000000099"})
	if got.BaseArticle != "4600000000099" {
		t.Fatalf("unknown barcode must keep literal identity, got %q", got.BaseArticle)
	}
	if log.Count(internal.AnomalyUnresolvedIdentity) != 1 {
		t.Fatal("unresolved identity not recorded")
	}

	empty := r.Resolve(internal.ProductHints{NmID: 42})
	if empty.BaseArticle != "UNKNOWN" || empty.NmID != 42 {
		t.Fatalf("empty hints mishandled: %+v", empty)
	}
	if log.Count(internal.AnomalyUnresolvedIdentity) != 2 {
		t.Fatal("second anomaly not recorded")
	}
}
