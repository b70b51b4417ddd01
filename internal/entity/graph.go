package entity

import (
	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
)

// ParentSpec names the required parent of a child variant and the field that
// holds the reference. Pure structural data; behavior lives in the resolver.
type ParentSpec struct {
	Parent   domain.RecordType
	RefField string
}

// parentSpecs is the fixed parent->child chain:
// BudgetItem and BusinessCase are roots; everything else hangs off
// BusinessCase -> LineItem -> WBS -> Asset -> PurchaseOrder -> {GoodsReceipt, Allocation}.
var parentSpecs = map[domain.RecordType]ParentSpec{
	domain.TypeLineItem:      {Parent: domain.TypeBusinessCase, RefField: "business_case_id"},
	domain.TypeWBS:           {Parent: domain.TypeLineItem, RefField: "line_item_id"},
	domain.TypeAsset:         {Parent: domain.TypeWBS, RefField: "wbs_id"},
	domain.TypePurchaseOrder: {Parent: domain.TypeAsset, RefField: "asset_id"},
	domain.TypeGoodsReceipt:  {Parent: domain.TypePurchaseOrder, RefField: "purchase_order_id"},
	domain.TypeAllocation:    {Parent: domain.TypePurchaseOrder, RefField: "purchase_order_id"},
}

// ParentOf returns the parent spec for a record type. ok is false for chain
// roots. Types outside the closed set fail with an unknown-entity-type error.
func ParentOf(t domain.RecordType) (spec ParentSpec, ok bool, err error) {
	if _, parseErr := domain.ParseRecordType(string(t)); parseErr != nil {
		return ParentSpec{}, false, parseErr
	}
	spec, ok = parentSpecs[t]
	return spec, ok, nil
}

// IsChainRoot reports whether the type has no required parent. The caller
// supplies the owner group for roots; children always inherit.
func IsChainRoot(t domain.RecordType) (bool, error) {
	_, hasParent, err := ParentOf(t)
	if err != nil {
		return false, err
	}
	return !hasParent, nil
}

// errInvalidParent builds the resolver's rejection for parent references that
// do not resolve to an existing record of the expected type.
func errInvalidParent(detail string) error {
	return dErrors.New(dErrors.CodeBadRequest, "invalid parent reference: "+detail)
}
