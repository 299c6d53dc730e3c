package sink

import (
	"strconv"
	"strings"
	"time"

	"stocktracker/internal"
)

// ToReportRow flattens an aggregated product into the sink's row shape:
// scalar totals plus parallel per-warehouse lists.
func ToReportRow(p internal.AggregatedProduct) internal.ReportRow {
	row := internal.ReportRow{
		BaseArticle: p.Identity.BaseArticle,
		NmID:        p.Identity.NmID,
		TotalOrders: p.TotalOrders,
		TotalStock:  p.TotalStock,
		Turnover:    p.Turnover.Ratio,
		Category:    string(p.Turnover.Category),
		RiskLevel:   string(p.Turnover.RiskLevel),
		StockStatus: string(p.Turnover.StockStatus),
		SyncedAt:    p.SyncedAt.UTC().Format(time.RFC3339),
	}
	for _, wh := range p.Warehouses {
		row.WarehouseNames = append(row.WarehouseNames, wh.Warehouse.Name)
		row.WarehouseOrders = append(row.WarehouseOrders, wh.Orders)
		row.WarehouseStocks = append(row.WarehouseStocks, wh.Stock)
	}
	return row
}

// Header is the sink's column layout, shared by the sheet and xlsx exports.
var Header = []string{
	"base_article", "nm_id", "total_orders", "total_stock", "turnover",
	"category", "risk_level", "stock_status",
	"warehouse_names", "warehouse_orders", "warehouse_stocks", "synced_at",
}

// Values renders a row in Header order. The parallel lists are joined with
// "; " so each stays a single cell.
func Values(row internal.ReportRow) []any {
	orders := make([]string, 0, len(row.WarehouseOrders))
	for _, n := range row.WarehouseOrders {
		orders = append(orders, strconv.Itoa(n))
	}
	stocks := make([]string, 0, len(row.WarehouseStocks))
	for _, v := range row.WarehouseStocks {
		stocks = append(stocks, strconv.FormatFloat(v, 'f', -1, 64))
	}

	return []any{
		row.BaseArticle,
		row.NmID,
		row.TotalOrders,
		row.TotalStock,
		row.Turnover,
		row.Category,
		row.RiskLevel,
		row.StockStatus,
		strings.Join(row.WarehouseNames, "; "),
		strings.Join(orders, "; "),
		strings.Join(stocks, "; "),
		row.SyncedAt,
	}
}
