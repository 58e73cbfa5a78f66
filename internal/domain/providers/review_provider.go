package providers

import (
	"context"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
)

// ReviewProvider submits clinical notes for review.
type ReviewProvider interface {
	Review(ctx context.Context, req entities.ReviewRequest) (*entities.ReviewResult, error)
}

// EnhancementProvider produces structured enhancement content for a
// reviewed note. The returned payload is raw JSON of loosely defined shape.
type EnhancementProvider interface {
	Enhance(ctx context.Context, req entities.EnhanceRequest) (*entities.EnhanceResult, error)
}
