package billing

import (
	"context"
	"fmt"

	"github.com/tasknest/tasknest/pkg/boards"
)

// MemberCounter counts membership rows across an owner's boards
type MemberCounter interface {
	CountMembersForOwner(ctx context.Context, ownerID string) (int, error)
}

// MemberCountSync keeps the board owner's subscription priced for the
// number of members across all of their boards.
type MemberCountSync struct {
	service *Service
	counter MemberCounter
}

var _ boards.MemberHook = (*MemberCountSync)(nil)

// NewMemberCountSync creates a membership hook bound to service
func NewMemberCountSync(service *Service, counter MemberCounter) *MemberCountSync {
	return &MemberCountSync{service: service, counter: counter}
}

// OnMemberAdded implements boards.MemberHook
func (h *MemberCountSync) OnMemberAdded(ctx context.Context, event boards.MemberEvent) error {
	return h.sync(ctx, event.OwnerID)
}

// OnMemberRemoved implements boards.MemberHook
func (h *MemberCountSync) OnMemberRemoved(ctx context.Context, event boards.MemberEvent) error {
	return h.sync(ctx, event.OwnerID)
}

func (h *MemberCountSync) sync(ctx context.Context, ownerID string) error {
	count, err := h.counter.CountMembersForOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to count members for %s: %w", ownerID, err)
	}
	sub, err := h.service.UpdateMemberCount(ctx, ownerID, count)
	if err != nil {
		return fmt.Errorf("failed to update member count for %s: %w", ownerID, err)
	}
	if sub != nil {
		h.service.logger.WithFields(map[string]interface{}{
			"user_id":      ownerID,
			"member_count": count,
		}).Debug("subscription member count synced")
	}
	return nil
}
