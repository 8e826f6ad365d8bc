package usecase

import (
	"fmt"

	"mailsync-backend/internal/email/repository"
)

// DeletionReconciler removes local records the remote no longer holds.
type DeletionReconciler struct {
	emailRepo repository.EmailRepository
}

func NewDeletionReconciler(emailRepo repository.EmailRepository) *DeletionReconciler {
	return &DeletionReconciler{emailRepo: emailRepo}
}

// ReconcileDiff deletes every locally stored id absent from remoteIDs
// and returns the deleted ids. remoteIDs must be the complete remote
// set for the user: diffing a single page of a multi-page listing
// would wipe every record outside that page.
func (r *DeletionReconciler) ReconcileDiff(userID string, remoteIDs []string) ([]string, error) {
	local, err := r.emailRepo.ListMessageIDs(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list local emails: %w", err)
	}

	remote := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		remote[id] = true
	}

	stale := make([]string, 0)
	for _, id := range local {
		if !remote[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	if err := r.emailRepo.DeleteByMessageIDs(userID, stale); err != nil {
		return nil, fmt.Errorf("failed to delete stale emails: %w", err)
	}
	return stale, nil
}

// ReconcileExplicit deletes exactly the ids the history feed marked as
// deleted and returns the subset that was actually stored locally.
func (r *DeletionReconciler) ReconcileExplicit(userID string, deletedIDs []string) ([]string, error) {
	if len(deletedIDs) == 0 {
		return nil, nil
	}

	existing, err := r.emailRepo.FindExistingIDs(userID, deletedIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check deleted emails: %w", err)
	}

	if err := r.emailRepo.DeleteByMessageIDs(userID, deletedIDs); err != nil {
		return nil, fmt.Errorf("failed to delete emails: %w", err)
	}

	removed := make([]string, 0, len(deletedIDs))
	for _, id := range deletedIDs {
		if existing[id] {
			removed = append(removed, id)
		}
	}
	return removed, nil
}
