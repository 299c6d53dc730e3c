package turnover

import "stocktracker/internal"

// Calculator derives the stock-to-order turnover signal. Note the convention:
// the ratio is stock divided by orders, so a numerically high value means
// slow-moving excess stock and the category names follow the report's
// historical labels, not the usual inventory-turnover sense.
type Calculator struct {
	LowStockThreshold float64
}

func NewCalculator(lowStockThreshold float64) Calculator {
	if lowStockThreshold <= 0 {
		lowStockThreshold = 10
	}
	return Calculator{LowStockThreshold: lowStockThreshold}
}

const (
	highPerformanceMin   = 2.0
	mediumPerformanceMin = 1.0
)

func (c Calculator) Compute(totalStock float64, totalOrders int) internal.TurnoverResult {
	var ratio float64
	switch {
	case totalOrders > 0:
		ratio = totalStock / float64(totalOrders)
	case totalStock == 0:
		ratio = 0
	default:
		// Stock with zero orders: treated as maximally slow-moving, not a
		// divide-by-zero path.
		ratio = totalStock
	}

	result := internal.TurnoverResult{Ratio: ratio}

	switch {
	case ratio >= highPerformanceMin:
		result.Category = internal.CategoryHigh
		result.RiskLevel = internal.RiskLow
	case ratio >= mediumPerformanceMin:
		result.Category = internal.CategoryMedium
		result.RiskLevel = internal.RiskMedium
	default:
		result.Category = internal.CategoryLow
		result.RiskLevel = internal.RiskHigh
	}

	// Stock-status overlay is independent of the category; out-of-stock
	// overrides the category risk.
	switch {
	case totalStock == 0:
		result.StockStatus = internal.StockOut
		result.RiskLevel = internal.RiskCritical
	case totalStock < c.LowStockThreshold:
		result.StockStatus = internal.StockLow
		result.RiskLevel = internal.RiskHigh
	default:
		result.StockStatus = internal.StockAdequate
	}

	return result
}
