package segmenter

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

const (
	// Sample length used for document type detection and name extraction.
	sampleSize = 2000

	defaultOverlap = 200

	// Target segment sizes per document type.
	chunkSizeISO     = 2500
	chunkSizeRBI     = 2200
	chunkSizeDPDP    = 2000
	chunkSizeGeneral = 2000

	defaultDocumentName = "Compliance Document"
)

// Segmenter splits a page sequence into ordered, labeled segments using
// document-type-aware boundary rules.
type Segmenter struct {
	overlap int
	logger  *zap.Logger
}

// New creates a segmenter with the given overlap between consecutive segments
func New(overlap int, logger *zap.Logger) *Segmenter {
	if overlap < 0 {
		overlap = defaultOverlap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Segmenter{overlap: overlap, logger: logger}
}

// Marker lists per document type, in priority order. The splitter always
// prefers to break at the highest-priority marker present in a span,
// recursing with lower-priority markers until pieces fit the target size.
var (
	fallbackMarkers = []*regexp.Regexp{
		regexp.MustCompile(`\n\n`),
		regexp.MustCompile(`\n`),
		regexp.MustCompile(` `),
	}

	dpdpMarkers = append([]*regexp.Regexp{
		regexp.MustCompile(`\nSEC\. `),
		regexp.MustCompile(`\nSection `),
		regexp.MustCompile(`\nCHAPTER `),
		regexp.MustCompile(`\nChapter `),
		regexp.MustCompile(`\n\d+\. \(\d+\) `),
		regexp.MustCompile(`\n\d+\. `),
		regexp.MustCompile(`\nAnnex `),
		regexp.MustCompile(`\nBibliography `),
		regexp.MustCompile(`\nAppendix `),
	}, fallbackMarkers...)

	isoMarkers = append([]*regexp.Regexp{
		regexp.MustCompile(`\n\d+\.\d+\.\d+ `),
		regexp.MustCompile(`\n\d+\.\d+ `),
		regexp.MustCompile(`\n\d+\. `),
		regexp.MustCompile(`\nAnnex `),
		regexp.MustCompile(`\nBibliography `),
		regexp.MustCompile(`\nNormative references `),
		regexp.MustCompile(`\n## `),
		regexp.MustCompile(`\n# `),
	}, fallbackMarkers...)

	rbiMarkers = append([]*regexp.Regexp{
		regexp.MustCompile(`\n\d+\. `),
		regexp.MustCompile(`\n\d+\.\d+ `),
		regexp.MustCompile(`\nChapter `),
		regexp.MustCompile(`\nAnnexure `),
		regexp.MustCompile(`\nRegulation `),
		regexp.MustCompile(`\nGuideline `),
	}, fallbackMarkers...)

	generalMarkers = append([]*regexp.Regexp{
		regexp.MustCompile(`\n\d+\. `),
		regexp.MustCompile(`\n\d+\.\d+ `),
		regexp.MustCompile(`\nChapter `),
		regexp.MustCompile(`\nSection `),
		regexp.MustCompile(`\nArticle `),
		regexp.MustCompile(`\nClause `),
		regexp.MustCompile(`\nANNEX `),
		regexp.MustCompile(`\nAppendix `),
	}, fallbackMarkers...)
)

// Name pattern rules tried in order; the first candidate whose normalized
// length falls in (10,100) wins.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:Act|Bill|Standard|Regulation)(?:\s+(?:called|known|as|of))?\s*["']?([^"'\n]{10,80})(?:["']|\.)`),
	regexp.MustCompile(`(?i)THE\s+([A-Z][^,\n]{10,80})(?:\s+ACT|\s+BILL)`),
	regexp.MustCompile(`(?i)INTERNATIONAL\s+STANDARD\s+([^,\n]{10,80})`),
	regexp.MustCompile(`(?i)(\b[A-Z][A-Z\s]+(?:ACT|BILL|STANDARD|REGULATION)["']?\s*[^,\n]{0,50})`),
}

var (
	smallIntHeading = regexp.MustCompile(`^(?:[1-9]|[1-4][0-9])\.`)
	pureNumeric     = regexp.MustCompile(`^[0-9]+$`)
)

// Segment classifies the document and splits the page sequence into
// ordered, labeled segments.
func (s *Segmenter) Segment(pages []domain.Page) (domain.DocType, string, []domain.Segment) {
	sample := ""
	if len(pages) > 0 {
		sample = pages[0].Text
		if len(sample) > sampleSize {
			sample = sample[:sampleSize]
		}
	}

	docType := DetectDocType(sample)
	docName := ExtractDocumentName(sample)

	if len(pages) == 0 {
		return docType, docName, nil
	}

	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	full := strings.Join(texts, "\n")

	markers, target := rulesFor(docType)
	ranges := s.splitRange(full, 0, len(full), markers, target)
	ranges = mergeRanges(full, ranges, markers, target)

	segments := make([]domain.Segment, 0, len(ranges))
	for i, r := range ranges {
		core := full[r[0]:r[1]]
		text := core
		if i > 0 && s.overlap > 0 {
			prev := full[ranges[i-1][0]:ranges[i-1][1]]
			if len(prev) > s.overlap {
				prev = prev[len(prev)-s.overlap:]
			}
			text = prev + core
		}
		segments = append(segments, domain.Segment{
			ID:      labelFor(core, i),
			Ordinal: i,
			DocType: docType,
			Text:    text,
			Offset:  r[0],
		})
	}

	s.logger.Info("document segmented",
		zap.String("doc_type", string(docType)),
		zap.String("doc_name", docName),
		zap.Int("pages", len(pages)),
		zap.Int("segments", len(segments)),
	)

	return docType, docName, segments
}

// DetectDocType detects the compliance document type from sample text.
// Checks run in fixed priority order; the first match wins.
func DetectDocType(sample string) domain.DocType {
	lower := strings.ToLower(sample)
	switch {
	case strings.Contains(lower, "iso") || strings.Contains(lower, "international standard"):
		return domain.DocTypeISO
	case strings.Contains(lower, "digital personal data protection") || strings.Contains(lower, "data principal"):
		return domain.DocTypeDPDP
	case strings.Contains(lower, "rbi") || strings.Contains(lower, "reserve bank"):
		return domain.DocTypeRBI
	default:
		return domain.DocTypeGeneral
	}
}

// ExtractDocumentName extracts the document or act name from sample text
func ExtractDocumentName(sample string) string {
	for _, pattern := range namePatterns {
		match := pattern.FindStringSubmatch(sample)
		if match == nil {
			continue
		}
		name := strings.TrimSpace(match[1])
		name = strings.Join(strings.Fields(name), " ")
		if len(name) > 10 && len(name) < 100 {
			return name
		}
	}
	return defaultDocumentName
}

func rulesFor(docType domain.DocType) ([]*regexp.Regexp, int) {
	switch docType {
	case domain.DocTypeISO:
		return isoMarkers, chunkSizeISO
	case domain.DocTypeDPDP:
		return dpdpMarkers, chunkSizeDPDP
	case domain.DocTypeRBI:
		return rbiMarkers, chunkSizeRBI
	default:
		return generalMarkers, chunkSizeGeneral
	}
}

// splitRange recursively splits full[start:end] at the highest-priority
// marker that occurs inside the span, descending to lower-priority markers
// for pieces that are still above the target size. Ranges are half-open
// byte offsets into full.
func (s *Segmenter) splitRange(full string, start, end int, markers []*regexp.Regexp, target int) [][2]int {
	if end-start <= target {
		return [][2]int{{start, end}}
	}

	span := full[start:end]
	for i, marker := range markers {
		points := splitPoints(span, marker)
		if len(points) == 0 {
			continue
		}

		var out [][2]int
		prev := 0
		points = append(points, len(span))
		for _, p := range points {
			if p == prev {
				continue
			}
			pieceStart, pieceEnd := start+prev, start+p
			if pieceEnd-pieceStart > target {
				out = append(out, s.splitRange(full, pieceStart, pieceEnd, markers[i+1:], target)...)
			} else {
				out = append(out, [2]int{pieceStart, pieceEnd})
			}
			prev = p
		}
		return out
	}

	// No marker occurs in the span: hard cut at the target size.
	var out [][2]int
	for cut := start; cut < end; cut += target {
		pieceEnd := cut + target
		if pieceEnd > end {
			pieceEnd = end
		}
		out = append(out, [2]int{cut, pieceEnd})
	}
	return out
}

// splitPoints returns the offsets of marker matches usable as boundaries.
// A match at offset zero splits nothing and is skipped; the boundary sits
// at the match start so the heading opens the next piece.
func splitPoints(span string, marker *regexp.Regexp) []int {
	locs := marker.FindAllStringIndex(span, -1)
	points := make([]int, 0, len(locs))
	for _, loc := range locs {
		if loc[0] > 0 {
			points = append(points, loc[0])
		}
	}
	return points
}

// mergeRanges coalesces adjacent undersized pieces while the combination
// stays within the target, so marker-dense regions do not degenerate into
// confetti. Pieces that themselves open with a top-priority heading are
// kept as segment starts.
func mergeRanges(full string, ranges [][2]int, markers []*regexp.Regexp, target int) [][2]int {
	if len(ranges) < 2 {
		return ranges
	}
	heading := markers[0]
	out := make([][2]int, 0, len(ranges))
	cur := ranges[0]
	for _, r := range ranges[1:] {
		combined := r[1] - cur[0]
		startsHeading := heading.MatchString("\n" + firstContentLine(full[r[0]:r[1]]))
		if combined <= target && !startsHeading {
			cur[1] = r[1]
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}

// labelFor derives a segment id from the piece's first line: a small
// integer heading, a purely numeric line, or an ANNEX token keeps the line
// as the id; everything else gets the positional fallback.
func labelFor(core string, ordinal int) string {
	line := strings.TrimSpace(firstContentLine(core))
	if line != "" {
		if smallIntHeading.MatchString(line) || pureNumeric.MatchString(line) ||
			strings.Contains(strings.ToUpper(line), "ANNEX") {
			return line
		}
	}
	return fmt.Sprintf("section_%d", ordinal+1)
}

// firstContentLine returns the first non-empty line. Pieces produced by the
// splitter keep their boundary marker, so they usually open with a newline.
func firstContentLine(text string) string {
	text = strings.TrimLeft(text, " \t\r\n")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}
