package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

var sectionNumberPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)*)`)

// Stage runs the two-stage extraction for one segment: a requirement
// discovery call, then one control suggestion call per discovered
// requirement. Every inference call is independently fault-isolated so one
// bad response degrades only its own scope.
type Stage struct {
	client domain.InferenceClient
	logger *zap.Logger

	requirementSchema *jsonschema.Schema
	controlSchema     *jsonschema.Schema
}

// NewStage creates an extraction stage over the given inference client
func NewStage(client domain.InferenceClient, logger *zap.Logger) (*Stage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reqSchema, err := compileSchema("requirement.json", requirementSchemaMap())
	if err != nil {
		return nil, fmt.Errorf("requirement schema: %w", err)
	}
	ctrlSchema, err := compileSchema("control.json", controlSchemaMap())
	if err != nil {
		return nil, fmt.Errorf("control schema: %w", err)
	}
	return &Stage{
		client:            client,
		logger:            logger,
		requirementSchema: reqSchema,
		controlSchema:     ctrlSchema,
	}, nil
}

// Extract returns the segment's requirements in inference response order
// plus the number of records dropped as invalid. It never fails: a failed
// or malformed discovery call contributes zero requirements.
func (s *Stage) Extract(ctx context.Context, segment domain.Segment, documentName string) ([]domain.Requirement, int) {
	sectionNumber := SectionNumber(segment.ID)

	records, err := s.client.Infer(ctx, domain.TaskDiscoverRequirements, domain.InferencePayload{
		DocumentName:  documentName,
		SectionNumber: sectionNumber,
		Text:          segment.Text,
	})
	if err != nil {
		s.logInferenceFailure("requirement discovery", segment.ID, err)
		return nil, 0
	}

	requirements := make([]domain.Requirement, 0, len(records))
	dropped := 0
	for _, record := range records {
		// The service's own report of these fields is not trusted.
		record["article_number"] = sectionNumber
		record["article_text"] = segment.Text

		req, ok := s.convertRequirement(record, segment.ID)
		if !ok {
			dropped++
			continue
		}

		req.Controls = s.suggestControls(ctx, req.Statement, segment.ID)
		requirements = append(requirements, req)
	}

	s.logger.Info("segment extracted",
		zap.String("segment", segment.ID),
		zap.Int("ordinal", segment.Ordinal),
		zap.Int("requirements", len(requirements)),
		zap.Int("dropped", dropped),
	)

	return requirements, dropped
}

// suggestControls asks for controls for one requirement statement.
// Failures degrade to an empty control list.
func (s *Stage) suggestControls(ctx context.Context, statement, segmentID string) []domain.Control {
	records, err := s.client.Infer(ctx, domain.TaskSuggestControls, domain.InferencePayload{
		Text: statement,
	})
	if err != nil {
		s.logInferenceFailure("control suggestion", segmentID, err)
		return []domain.Control{}
	}

	controls := make([]domain.Control, 0, len(records))
	for _, record := range records {
		ctrl, ok := s.convertControl(record, segmentID)
		if !ok {
			continue
		}
		controls = append(controls, ctrl)
	}
	return controls
}

func (s *Stage) convertRequirement(record map[string]any, segmentID string) (domain.Requirement, bool) {
	var req domain.Requirement
	if err := s.convert(s.requirementSchema, record, &req); err != nil {
		s.logger.Warn("dropping invalid requirement record",
			zap.String("segment", segmentID),
			zap.Error(err),
		)
		return domain.Requirement{}, false
	}
	// Controls are populated separately from the control call.
	req.Controls = nil
	return req, true
}

func (s *Stage) convertControl(record map[string]any, segmentID string) (domain.Control, bool) {
	var ctrl domain.Control
	if err := s.convert(s.controlSchema, record, &ctrl); err != nil {
		s.logger.Warn("dropping invalid control record",
			zap.String("segment", segmentID),
			zap.Error(err),
		)
		return domain.Control{}, false
	}
	return ctrl, true
}

// convert validates the loosely typed record against the schema, then
// decodes it into the typed shape.
func (s *Stage) convert(schema *jsonschema.Schema, record map[string]any, out any) error {
	if err := schema.Validate(map[string]any(record)); err != nil {
		return err
	}
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (s *Stage) logInferenceFailure(call, segmentID string, err error) {
	if errors.Is(err, domain.ErrMalformedResponse) {
		s.logger.Warn("inference returned no usable records",
			zap.String("call", call),
			zap.String("segment", segmentID),
			zap.Error(err),
		)
		return
	}
	s.logger.Error("inference call failed",
		zap.String("call", call),
		zap.String("segment", segmentID),
		zap.Error(err),
	)
}

// SectionNumber extracts the leading numeric token from a segment id,
// e.g. "6.1.2 Determining..." -> "6.1.2". Ids without a numeric prefix are
// returned as-is.
func SectionNumber(segmentID string) string {
	if match := sectionNumberPattern.FindStringSubmatch(segmentID); match != nil {
		return match[1]
	}
	return segmentID
}

// Verify that Stage implements domain.SegmentExtractor
var _ domain.SegmentExtractor = (*Stage)(nil)
