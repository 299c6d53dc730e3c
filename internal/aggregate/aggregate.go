package aggregate

import (
	"sort"
	"time"

	"stocktracker/internal"
	"stocktracker/internal/product"
	"stocktracker/internal/turnover"
	"stocktracker/internal/warehouse"
)

// Aggregator merges per-channel stock and deduplicated orders into one
// AggregatedProduct per product identity. The normalizer and resolver must be
// frozen before Aggregate runs; Aggregate itself is single-pass and attributes
// every input record to exactly one (product, warehouse) pair.
type Aggregator struct {
	norm *warehouse.Normalizer
	res  *product.Resolver
	calc turnover.Calculator
	log  *internal.AnomalyLog
}

func New(norm *warehouse.Normalizer, res *product.Resolver, calc turnover.Calculator, log *internal.AnomalyLog) *Aggregator {
	return &Aggregator{norm: norm, res: res, calc: calc, log: log}
}

// FlattenOperator expands operator feed rows into channel-tagged stock
// records. The in-transit quantities become records against the transit
// pseudo-warehouses so they survive into the breakdown without inflating
// totals.
func FlattenOperator(records []internal.OperatorStockRecord) []internal.StockRecord {
	out := make([]internal.StockRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, internal.StockRecord{
			Channel:       internal.ChannelOperator,
			Article:       rec.SupplierArticle,
			NmID:          rec.NmID,
			Barcode:       rec.Barcode,
			WarehouseName: rec.WarehouseName,
			Quantity:      rec.Quantity,
		})
		if rec.InWayToClient > 0 {
			out = append(out, internal.StockRecord{
				Channel:       internal.ChannelOperator,
				Article:       rec.SupplierArticle,
				NmID:          rec.NmID,
				Barcode:       rec.Barcode,
				WarehouseName: "В пути до получателей",
				Quantity:      rec.InWayToClient,
			})
		}
		if rec.InWayFromClient > 0 {
			out = append(out, internal.StockRecord{
				Channel:       internal.ChannelOperator,
				Article:       rec.SupplierArticle,
				NmID:          rec.NmID,
				Barcode:       rec.Barcode,
				WarehouseName: "В пути от получателей",
				Quantity:      rec.InWayFromClient,
			})
		}
	}
	return out
}

// FlattenSeller maps seller feed rows onto the seller-fulfillment virtual
// pool. The feed reports a physical warehouse id, but the report treats all
// seller-fulfilled stock as one shared pool entry.
func FlattenSeller(records []internal.SellerStockRecord) []internal.StockRecord {
	out := make([]internal.StockRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, internal.StockRecord{
			Channel:       internal.ChannelSeller,
			Barcode:       rec.Barcode,
			WarehouseName: "Маркетплейс",
			Quantity:      rec.Amount,
		})
	}
	return out
}

type cell struct {
	warehouse internal.CanonicalWarehouse
	stock     float64
	orders    int
	byChannel map[internal.Channel]float64
}

type group struct {
	identity   internal.ProductIdentity
	cells      map[string]*cell
	attributed int // deduplicated non-cancelled events resolved to this identity
}

// Aggregate joins stock records with already-deduplicated orders. Orders must
// have passed through orders.DedupeAndFilter first.
func (a *Aggregator) Aggregate(stocks []internal.StockRecord, orderEvents []internal.OrderEvent, now time.Time) []internal.AggregatedProduct {
	groups := map[string]*group{}
	inputStock := 0.0

	for _, rec := range stocks {
		inputStock += rec.Quantity
		g := a.group(groups, internal.ProductHints{Article: rec.Article, NmID: rec.NmID, Barcode: rec.Barcode})
		c := a.cell(g, rec.WarehouseName)
		c.stock += rec.Quantity
		c.byChannel[rec.Channel] += rec.Quantity
	}

	for _, event := range orderEvents {
		g := a.group(groups, internal.ProductHints{Article: event.Article, NmID: event.NmID, Barcode: event.Barcode})
		c := a.cell(g, event.WarehouseName)
		c.orders++
		g.attributed++
	}

	out := make([]internal.AggregatedProduct, 0, len(groups))
	outputStock := 0.0
	for _, g := range groups {
		p := a.finalize(g, now)
		for _, wh := range p.Warehouses {
			outputStock += wh.Stock
		}
		out = append(out, p)
	}

	// Conservation guard: the breakdown must carry every input quantity,
	// including the in-transit portion excluded from totals.
	if inputStock != outputStock {
		a.log.Record(internal.AnomalyStockNotConserved, "input stock %v != attributed stock %v", inputStock, outputStock)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Identity.BaseArticle < out[j].Identity.BaseArticle })
	return out
}

func (a *Aggregator) group(groups map[string]*group, hints internal.ProductHints) *group {
	identity := a.res.Resolve(hints)
	g, ok := groups[identity.BaseArticle]
	if !ok {
		g = &group{identity: identity, cells: map[string]*cell{}}
		groups[identity.BaseArticle] = g
	}
	return g
}

func (a *Aggregator) cell(g *group, rawWarehouse string) *cell {
	wh := a.norm.Normalize(rawWarehouse)
	c, ok := g.cells[wh.Key]
	if !ok {
		c = &cell{warehouse: wh, byChannel: map[internal.Channel]float64{}}
		g.cells[wh.Key] = c
	}
	return c
}

func (a *Aggregator) finalize(g *group, now time.Time) internal.AggregatedProduct {
	p := internal.AggregatedProduct{Identity: g.identity, SyncedAt: now}

	keys := make([]string, 0, len(g.cells))
	for key := range g.cells {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		c := g.cells[key]

		channels := make([]internal.Channel, 0, len(c.byChannel))
		for _, ch := range []internal.Channel{internal.ChannelOperator, internal.ChannelSeller} {
			if _, ok := c.byChannel[ch]; ok {
				channels = append(channels, ch)
			}
		}

		// A real warehouse should be fed by a single channel; only the
		// virtual pool legitimately spans both. The contributions stay
		// attributed (nothing is dropped), the overlap is reported.
		if c.warehouse.Class == internal.ClassReal && len(channels) > 1 {
			a.log.Record(internal.AnomalyChannelOverlap, "warehouse %q of product %s received stock from both channels", c.warehouse.Name, g.identity.BaseArticle)
		}

		if !c.warehouse.Class.InTransit() {
			p.TotalStock += c.stock
			p.OperatorStock += c.byChannel[internal.ChannelOperator]
			p.SellerStock += c.byChannel[internal.ChannelSeller]
		}
		p.TotalOrders += c.orders

		p.Warehouses = append(p.Warehouses, internal.WarehouseStock{
			Warehouse: c.warehouse,
			Stock:     c.stock,
			Orders:    c.orders,
			Channels:  channels,
		})
	}

	if p.TotalOrders != g.attributed {
		a.log.Record(internal.AnomalyOrderCountMismatch, "product %s: %d per-warehouse orders vs %d attributed events", g.identity.BaseArticle, p.TotalOrders, g.attributed)
	}

	p.Turnover = a.calc.Compute(p.TotalStock, p.TotalOrders)
	return p
}
