package domain

import "context"

// SegmentExtractor runs the two-stage extraction for one segment and
// returns its requirements in inference response order, plus the number of
// records dropped as invalid. It never fails: per-call errors degrade to an
// empty contribution inside the stage.
type SegmentExtractor interface {
	Extract(ctx context.Context, segment Segment, documentName string) ([]Requirement, int)
}
