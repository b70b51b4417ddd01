// Package entity defines the procurement entity chain and the ownership
// rules frozen into each record at creation. The variant set is closed:
// dispatch happens on domain.RecordType and anything outside the set fails
// parsing at the trust boundary.
package entity

import (
	"time"

	"captrack/pkg/domain"
)

// SpendCategory classifies spend on line items and purchase orders.
type SpendCategory string

const (
	SpendCapex SpendCategory = "CAPEX"
	SpendOpex  SpendCategory = "OPEX"
)

// Record is the behavior shared by every entity variant. Amounts are stored
// in minor currency units to avoid floating point drift.
type Record interface {
	// Meta returns the authorization-relevant slice of the record.
	Meta() domain.Meta

	// Parent returns the required parent reference. ok is false for chain
	// roots (BudgetItem, BusinessCase), which have no parent.
	Parent() (ref domain.Ref, ok bool)

	// Clone returns a copy so stores never alias caller-held pointers.
	Clone() Record

	core() *RecordCore
}

// RecordCore carries the fields every variant shares. The owner group is
// resolved once at creation and immutable afterwards; there is no
// re-parenting operation.
type RecordCore struct {
	ID           domain.RecordID `json:"id"`
	OwnerGroupID domain.GroupID  `json:"owner_group_id"`
	CreatedBy    domain.UserID   `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedBy    domain.UserID   `json:"updated_by,omitzero"`
	UpdatedAt    *time.Time      `json:"updated_at,omitempty"`
}

func (c *RecordCore) meta(t domain.RecordType) domain.Meta {
	return domain.Meta{Type: t, ID: c.ID, OwnerGroupID: c.OwnerGroupID, CreatedBy: c.CreatedBy}
}

// BudgetItem is a chain root: an approved budget position imported from the
// planning system, identified by its workday reference.
type BudgetItem struct {
	RecordCore
	WorkdayRef  string `json:"workday_ref"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	FiscalYear  int    `json:"fiscal_year"`
}

func (b *BudgetItem) Meta() domain.Meta          { return b.meta(domain.TypeBudgetItem) }
func (b *BudgetItem) Parent() (domain.Ref, bool) { return domain.Ref{}, false }
func (b *BudgetItem) Clone() Record              { c := *b; return &c }
func (b *BudgetItem) core() *RecordCore          { return &b.RecordCore }

// BusinessCase is a chain root: a funding request owned by the group that
// sponsors it.
type BusinessCase struct {
	RecordCore
	Title              string `json:"title"`
	Description        string `json:"description,omitempty"`
	Requestor          string `json:"requestor,omitempty"`
	Department         string `json:"department,omitempty"`
	EstimatedCostCents int64  `json:"estimated_cost_cents"`
	Status             string `json:"status"`
}

func (b *BusinessCase) Meta() domain.Meta          { return b.meta(domain.TypeBusinessCase) }
func (b *BusinessCase) Parent() (domain.Ref, bool) { return domain.Ref{}, false }
func (b *BusinessCase) Clone() Record              { c := *b; return &c }
func (b *BusinessCase) core() *RecordCore          { return &b.RecordCore }

// LineItem breaks a business case into fundable positions. Its required
// parent is the business case; the budget item link records which budget
// position funds it without affecting ownership.
type LineItem struct {
	RecordCore
	BusinessCaseID       domain.RecordID `json:"business_case_id"`
	BudgetItemID         domain.RecordID `json:"budget_item_id"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	SpendCategory        SpendCategory   `json:"spend_category"`
	RequestedAmountCents int64           `json:"requested_amount_cents"`
	Currency             string          `json:"currency"`
	PlannedCommitDate    *time.Time      `json:"planned_commit_date,omitempty"`
	Status               string          `json:"status"`
}

func (l *LineItem) Meta() domain.Meta { return l.meta(domain.TypeLineItem) }
func (l *LineItem) Parent() (domain.Ref, bool) {
	return domain.Ref{Type: domain.TypeBusinessCase, ID: l.BusinessCaseID}, true
}
func (l *LineItem) Clone() Record     { c := *l; return &c }
func (l *LineItem) core() *RecordCore { return &l.RecordCore }

// WBS is a work breakdown structure element under a line item.
type WBS struct {
	RecordCore
	LineItemID  domain.RecordID `json:"line_item_id"`
	Code        string          `json:"wbs_code"`
	Description string          `json:"description,omitempty"`
	Status      string          `json:"status"`
}

func (w *WBS) Meta() domain.Meta { return w.meta(domain.TypeWBS) }
func (w *WBS) Parent() (domain.Ref, bool) {
	return domain.Ref{Type: domain.TypeLineItem, ID: w.LineItemID}, true
}
func (w *WBS) Clone() Record     { c := *w; return &c }
func (w *WBS) core() *RecordCore { return &w.RecordCore }

// Asset tracks a deliverable under a WBS element.
type Asset struct {
	RecordCore
	WBSID       domain.RecordID `json:"wbs_id"`
	Code        string          `json:"asset_code"`
	AssetType   string          `json:"asset_type,omitempty"`
	Description string          `json:"description,omitempty"`
	Status      string          `json:"status"`
}

func (a *Asset) Meta() domain.Meta { return a.meta(domain.TypeAsset) }
func (a *Asset) Parent() (domain.Ref, bool) {
	return domain.Ref{Type: domain.TypeWBS, ID: a.WBSID}, true
}
func (a *Asset) Clone() Record     { c := *a; return &c }
func (a *Asset) core() *RecordCore { return &a.RecordCore }

// PurchaseOrder commits spend against an asset.
type PurchaseOrder struct {
	RecordCore
	AssetID          domain.RecordID `json:"asset_id"`
	PONumber         string          `json:"po_number"`
	Supplier         string          `json:"supplier,omitempty"`
	POType           string          `json:"po_type,omitempty"`
	StartDate        *time.Time      `json:"start_date,omitempty"`
	EndDate          *time.Time      `json:"end_date,omitempty"`
	TotalAmountCents int64           `json:"total_amount_cents"`
	Currency         string          `json:"currency"`
	SpendCategory    SpendCategory   `json:"spend_category"`
	Status           string          `json:"status"`
}

func (p *PurchaseOrder) Meta() domain.Meta { return p.meta(domain.TypePurchaseOrder) }
func (p *PurchaseOrder) Parent() (domain.Ref, bool) {
	return domain.Ref{Type: domain.TypeAsset, ID: p.AssetID}, true
}
func (p *PurchaseOrder) Clone() Record     { c := *p; return &c }
func (p *PurchaseOrder) core() *RecordCore { return &p.RecordCore }

// GoodsReceipt confirms delivery against a purchase order.
type GoodsReceipt struct {
	RecordCore
	PurchaseOrderID domain.RecordID `json:"purchase_order_id"`
	GRNumber        string          `json:"gr_number"`
	GRDate          *time.Time      `json:"gr_date,omitempty"`
	AmountCents     int64           `json:"amount_cents"`
	Description     string          `json:"description,omitempty"`
}

func (g *GoodsReceipt) Meta() domain.Meta { return g.meta(domain.TypeGoodsReceipt) }
func (g *GoodsReceipt) Parent() (domain.Ref, bool) {
	return domain.Ref{Type: domain.TypePurchaseOrder, ID: g.PurchaseOrderID}, true
}
func (g *GoodsReceipt) Clone() Record     { c := *g; return &c }
func (g *GoodsReceipt) core() *RecordCore { return &g.RecordCore }

// Allocation books an external resource against a purchase order for a
// period. The resource itself is managed outside the chain, so the link is a
// plain reference string.
type Allocation struct {
	RecordCore
	PurchaseOrderID          domain.RecordID `json:"purchase_order_id"`
	ResourceRef              string          `json:"resource_ref"`
	AllocationStart          *time.Time      `json:"allocation_start,omitempty"`
	AllocationEnd            *time.Time      `json:"allocation_end,omitempty"`
	ExpectedMonthlyBurnCents int64           `json:"expected_monthly_burn_cents"`
}

func (a *Allocation) Meta() domain.Meta { return a.meta(domain.TypeAllocation) }
func (a *Allocation) Parent() (domain.Ref, bool) {
	return domain.Ref{Type: domain.TypePurchaseOrder, ID: a.PurchaseOrderID}, true
}
func (a *Allocation) Clone() Record     { c := *a; return &c }
func (a *Allocation) core() *RecordCore { return &a.RecordCore }
