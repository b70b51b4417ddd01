package entity

import (
	"encoding/json"
	"fmt"

	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
)

// New returns an empty record of the given type. The switch is the single
// place that maps type names to variants; adding an entity type means
// extending it together with the parent graph.
func New(t domain.RecordType) (Record, error) {
	switch t {
	case domain.TypeBudgetItem:
		return &BudgetItem{}, nil
	case domain.TypeBusinessCase:
		return &BusinessCase{}, nil
	case domain.TypeLineItem:
		return &LineItem{}, nil
	case domain.TypeWBS:
		return &WBS{}, nil
	case domain.TypeAsset:
		return &Asset{}, nil
	case domain.TypePurchaseOrder:
		return &PurchaseOrder{}, nil
	case domain.TypeGoodsReceipt:
		return &GoodsReceipt{}, nil
	case domain.TypeAllocation:
		return &Allocation{}, nil
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown entity type: "+string(t))
	}
}

// Decode unmarshals a JSON payload into a fresh record of the given type.
func Decode(t domain.RecordType, data []byte) (Record, error) {
	rec, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, fmt.Sprintf("invalid %s payload", t))
	}
	return rec, nil
}
