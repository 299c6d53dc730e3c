package product

import (
	"sort"
	"strings"

	"stocktracker/internal"
	"stocktracker/internal/util"
)

// Resolver maps heterogeneous article/barcode hints onto one stable product
// identity per base article. It is built once per run from the current feed
// pull, then frozen before concurrent aggregation starts.
type Resolver struct {
	baseByBarcode map[string]string
	nmIDByBase    map[string]int64
	barcodes      map[string]map[string]struct{}
	variants      map[string]map[string]struct{}
	log           *internal.AnomalyLog
	frozen        bool
}

// Bundle and channel suffixes that roll a full article up to its base
// product: "ABC-123/2" and "ABC-123-FBS" are variants of "ABC-123".
var (
	bundleDelimiters = []string{"/", "*", "+"}
	channelSuffixes  = []string{"-FBS", "-ФБС", "-MP"}
)

func NewResolver(log *internal.AnomalyLog) *Resolver {
	return &Resolver{
		baseByBarcode: map[string]string{},
		nmIDByBase:    map[string]int64{},
		barcodes:      map[string]map[string]struct{}{},
		variants:      map[string]map[string]struct{}{},
		log:           log,
	}
}

// BaseArticle strips bundle/variant and channel-suffix delimiters from a full
// article string. Deterministic and case-normalizing; an article with no
// recognised suffix is its own base.
func BaseArticle(article string) string {
	base := strings.ToUpper(strings.TrimSpace(article))
	for _, delim := range bundleDelimiters {
		if i := strings.Index(base, delim); i > 0 {
			base = base[:i]
		}
	}
	base = util.NormalizeCode(base)
	for _, suffix := range channelSuffixes {
		if strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
			base = base[:len(base)-len(suffix)]
		}
	}
	return base
}

// Register records an article/barcode pairing observed in a feed pull so later
// barcode-only records can be bridged back to the article. Must not be called
// after Freeze.
func (r *Resolver) Register(hints internal.ProductHints) {
	if r.frozen {
		panic("product: register after freeze")
	}
	article := strings.ToUpper(strings.TrimSpace(hints.Article))
	if article == "" {
		return
	}
	base := BaseArticle(article)
	if base == "" {
		return
	}

	if r.variants[base] == nil {
		r.variants[base] = map[string]struct{}{}
	}
	r.variants[base][article] = struct{}{}

	if hints.NmID != 0 {
		if _, ok := r.nmIDByBase[base]; !ok {
			r.nmIDByBase[base] = hints.NmID
		}
	}

	barcode := util.NormalizeCode(hints.Barcode)
	if barcode == "" {
		return
	}
	if r.barcodes[base] == nil {
		r.barcodes[base] = map[string]struct{}{}
	}
	r.barcodes[base][barcode] = struct{}{}
	if _, ok := r.baseByBarcode[barcode]; !ok {
		r.baseByBarcode[barcode] = base
	}
}

// Freeze marks the lookup tables read-only. Resolve is safe for concurrent
// use only after Freeze.
func (r *Resolver) Freeze() { r.frozen = true }

// Resolve maps hints to a product identity. Records that carry neither a
// reducible article nor a known barcode keep their literal string as their own
// identity; the anomaly is recorded, the record is never dropped.
func (r *Resolver) Resolve(hints internal.ProductHints) internal.ProductIdentity {
	if strings.TrimSpace(hints.Article) != "" {
		id := r.identity(BaseArticle(hints.Article))
		if id.NmID == 0 {
			id.NmID = hints.NmID
		}
		return id
	}

	barcode := util.NormalizeCode(hints.Barcode)
	if barcode != "" {
		if base, ok := r.baseByBarcode[barcode]; ok {
			return r.identity(base)
		}
		if r.log != nil {
			r.log.Record(internal.AnomalyUnresolvedIdentity, "barcode %s has no known article", barcode)
		}
		return internal.ProductIdentity{BaseArticle: barcode, NmID: hints.NmID, Barcodes: []string{barcode}}
	}

	if r.log != nil {
		r.log.Record(internal.AnomalyUnresolvedIdentity, "record without article or barcode (nmId=%d)", hints.NmID)
	}
	return internal.ProductIdentity{BaseArticle: "UNKNOWN", NmID: hints.NmID}
}

func (r *Resolver) identity(base string) internal.ProductIdentity {
	return internal.ProductIdentity{
		BaseArticle: base,
		NmID:        r.nmIDByBase[base],
		Barcodes:    sortedKeys(r.barcodes[base]),
		Variants:    sortedKeys(r.variants[base]),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
