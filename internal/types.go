package internal

import (
	"errors"
	"fmt"
	"time"
)

type Channel string

const (
	ChannelOperator Channel = "fbo"
	ChannelSeller   Channel = "fbs"
)

type WarehouseClass string

const (
	ClassReal              WarehouseClass = "real"
	ClassVirtualPool       WarehouseClass = "virtual_pool"
	ClassTransitToClient   WarehouseClass = "in_transit_to_client"
	ClassTransitFromClient WarehouseClass = "in_transit_from_client"
	ClassTransitReturn     WarehouseClass = "return_in_transit"
)

// InTransit reports whether the class is one of the transit pseudo-warehouse
// buckets, which stay in the per-warehouse breakdown but never count toward
// total stock.
func (c WarehouseClass) InTransit() bool {
	switch c {
	case ClassTransitToClient, ClassTransitFromClient, ClassTransitReturn:
		return true
	default:
		return false
	}
}

// CanonicalWarehouse is the stable identity a raw warehouse name normalizes to.
// Known is false when the name passed through unmapped and should be reviewed
// for the alias table.
type CanonicalWarehouse struct {
	Key   string
	Name  string
	Class WarehouseClass
	Known bool
}

// OperatorStockRecord is one row of the operator-fulfilled stock feed.
type OperatorStockRecord struct {
	SupplierArticle string  `json:"supplierArticle"`
	NmID            int64   `json:"nmId"`
	Barcode         string  `json:"barcode"`
	WarehouseName   string  `json:"warehouseName"`
	Quantity        float64 `json:"quantity"`
	InWayToClient   float64 `json:"inWayToClient"`
	InWayFromClient float64 `json:"inWayFromClient"`
}

// SellerStockRecord is one row of the seller-fulfilled stock feed.
type SellerStockRecord struct {
	WarehouseID   int64   `json:"warehouseId"`
	WarehouseName string  `json:"warehouseName"`
	Barcode       string  `json:"sku"`
	Amount        float64 `json:"amount"`
}

// StockRecord is the channel-tagged union both raw feed shapes flatten into
// before aggregation.
type StockRecord struct {
	Channel       Channel
	Article       string
	NmID          int64
	Barcode       string
	WarehouseName string
	Quantity      float64
}

// OrderEvent is one row of the order feed.
type OrderEvent struct {
	OrderID       string    `json:"srid"`
	Article       string    `json:"supplierArticle"`
	NmID          int64     `json:"nmId"`
	Barcode       string    `json:"barcode"`
	WarehouseName string    `json:"warehouseName"`
	Canceled      bool      `json:"isCancel"`
	Date          time.Time `json:"date"`
}

// ProductHints carries whatever identity fields a record happens to have.
type ProductHints struct {
	Article string
	NmID    int64
	Barcode string
}

// ProductIdentity is the resolved per-product identity. BaseArticle is the
// canonical key after bundle/variant suffix stripping.
type ProductIdentity struct {
	BaseArticle string
	NmID        int64
	Barcodes    []string
	Variants    []string
}

type WarehouseStock struct {
	Warehouse CanonicalWarehouse
	Stock     float64
	Orders    int
	Channels  []Channel
}

type TurnoverCategory string

const (
	CategoryHigh   TurnoverCategory = "high_performance"
	CategoryMedium TurnoverCategory = "medium_performance"
	CategoryLow    TurnoverCategory = "low_performance"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type StockStatus string

const (
	StockOut      StockStatus = "out_of_stock"
	StockLow      StockStatus = "low_stock"
	StockAdequate StockStatus = "adequate"
)

type TurnoverResult struct {
	Ratio       float64
	Category    TurnoverCategory
	RiskLevel   RiskLevel
	StockStatus StockStatus
}

// AggregatedProduct is rebuilt in full every sync cycle and replaces the
// prior sink row for the same identity.
type AggregatedProduct struct {
	Identity      ProductIdentity
	TotalStock    float64
	OperatorStock float64
	SellerStock   float64
	TotalOrders   int
	Warehouses    []WarehouseStock
	Turnover      TurnoverResult
	SyncedAt      time.Time
}

// ReportRow is the flat sink representation of an AggregatedProduct: one row
// per identity with parallel per-warehouse lists.
type ReportRow struct {
	BaseArticle     string
	NmID            int64
	TotalOrders     int
	TotalStock      float64
	Turnover        float64
	Category        string
	RiskLevel       string
	StockStatus     string
	WarehouseNames  []string
	WarehouseOrders []int
	WarehouseStocks []float64
	SyncedAt        string
}

type SessionState string

const (
	SessionPending   SessionState = "PENDING"
	SessionRunning   SessionState = "RUNNING"
	SessionCompleted SessionState = "COMPLETED"
	SessionPartial   SessionState = "PARTIAL"
	SessionFailed    SessionState = "FAILED"
)

// SyncSession summarizes one sync run. It is finalized once; Errors is
// bounded by MaxSessionErrors.
type SyncSession struct {
	ID                string
	State             SessionState
	StartedAt         time.Time
	FinishedAt        *time.Time
	Processed         int
	Failed            int
	DuplicatesSkipped int
	Anomalies         int
	Errors            []string
}

const MaxSessionErrors = 20

func (s *SyncSession) AddError(msg string) {
	if len(s.Errors) < MaxSessionErrors {
		s.Errors = append(s.Errors, msg)
	}
}

type AnomalyKind string

const (
	AnomalyUnknownWarehouse   AnomalyKind = "unknown_warehouse"
	AnomalyUnresolvedIdentity AnomalyKind = "unresolved_identity"
	AnomalyChannelOverlap     AnomalyKind = "channel_overlap"
	AnomalyOrderCountMismatch AnomalyKind = "order_count_mismatch"
	AnomalyStockNotConserved  AnomalyKind = "stock_not_conserved"
)

type Anomaly struct {
	Kind   AnomalyKind
	Detail string
}

type FailureClass int

const (
	FailureRetryable FailureClass = iota
	FailureFatal
)

// ExternalError classifies an external-call failure so callers can decide
// between retrying and aborting without string-matching on error text.
type ExternalError struct {
	Op     string
	Status int
	Class  FailureClass
	Err    error
}

func (e *ExternalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status=%d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is an external failure worth retrying.
// Unclassified errors (network-level failures and such) count as retryable.
func IsRetryable(err error) bool {
	var ext *ExternalError
	if errors.As(err, &ext) {
		return ext.Class == FailureRetryable
	}
	return true
}

// IsFatal reports an explicitly fatal external failure (bad credentials,
// permanent 4xx).
func IsFatal(err error) bool {
	var ext *ExternalError
	if errors.As(err, &ext) {
		return ext.Class == FailureFatal
	}
	return false
}
