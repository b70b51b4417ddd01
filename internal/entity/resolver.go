package entity

import (
	"context"
	"errors"
	"fmt"

	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/platform/sentinel"
)

// RecordFinder looks up the authorization meta of an existing record.
type RecordFinder interface {
	FindMeta(ctx context.Context, ref domain.Ref) (domain.Meta, error)
}

// Resolver computes the owner group frozen into a record at creation time.
// It runs exactly once per record; the result is immutable afterwards.
type Resolver struct {
	records RecordFinder
}

func NewResolver(records RecordFinder) *Resolver {
	return &Resolver{records: records}
}

// ResolveOwnerGroup returns the owner group a new record must be created
// with.
//
// Child types inherit the parent's owner group unconditionally: whatever the
// caller put on the record is discarded, never persisted. Chain roots keep
// the caller-supplied group, but only when the principal is a member of it or
// holds an elevated role.
func (r *Resolver) ResolveOwnerGroup(ctx context.Context, rec Record, p domain.Principal) (domain.GroupID, error) {
	meta := rec.Meta()
	spec, hasParent, err := ParentOf(meta.Type)
	if err != nil {
		return domain.GroupID{}, err
	}

	if !hasParent {
		if meta.OwnerGroupID.IsNil() {
			return domain.GroupID{}, dErrors.New(dErrors.CodeBadRequest, "owner group is required for "+string(meta.Type))
		}
		if !p.Role.Elevated() && !p.MemberOf(meta.OwnerGroupID) {
			return domain.GroupID{}, dErrors.New(dErrors.CodeForbidden, "caller is not a member of the requested owner group")
		}
		return meta.OwnerGroupID, nil
	}

	parentRef, ok := rec.Parent()
	if !ok || parentRef.ID.IsNil() {
		return domain.GroupID{}, errInvalidParent(spec.RefField + " is required")
	}
	if parentRef.Type != spec.Parent {
		return domain.GroupID{}, errInvalidParent(fmt.Sprintf("%s must reference a %s", spec.RefField, spec.Parent))
	}

	parent, err := r.records.FindMeta(ctx, parentRef)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.GroupID{}, errInvalidParent(fmt.Sprintf("%s %s does not exist", spec.Parent, parentRef.ID))
	}
	if err != nil {
		return domain.GroupID{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "parent lookup failed")
	}
	return parent.OwnerGroupID, nil
}
