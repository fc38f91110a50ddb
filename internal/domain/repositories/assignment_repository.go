package repositories

import "context"

// AssignmentRepository durably records first assignments
type AssignmentRepository interface {
	// Get returns the recorded variant ID, or a not found error
	Get(ctx context.Context, experimentID, subjectID string) (string, error)

	// SaveIfAbsent records variantID unless an assignment exists and returns
	// the assignment that is now authoritative
	SaveIfAbsent(ctx context.Context, experimentID, subjectID, variantID string) (string, error)
}
