package inference

import (
	"fmt"
	"strings"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

// Prompt templates for the two extraction tasks. The pipeline never sees
// these: prompt wording is a content concern owned by this boundary.

const requirementTemplate = `You are analyzing the "%s" compliance document.
Below is text from document Section %s:

Section %s: %s

IMPORTANT: Identify ONLY enforceable COMPLIANCE REQUIREMENTS that organizations MUST follow.
Requirements are MANDATORY obligations containing enforcement language like:
- "shall" / "must" / "will" / "is required to"
- "shall not" / "must not" / "will not"
- Specific mandates, prohibitions, or mandatory procedures

DO NOT include:
- Act titles, names, or introductory statements ("This Act shall be called...")
- Section headers, chapter titles, or numbering
- Definitions or explanatory text without enforcement language
- Historical context or procedural descriptions
- Permissions, allowances, or discretionary language ("may", "can", "could")
- General principles without specific mandates

If NO enforceable requirements exist in this text, return an empty array [].

Output a JSON array where each requirement has:
- requirement_title: A descriptive title for the requirement
- article_number: Use the section number provided: "%s"
- priority: "high" for core compliance mandates, "medium" for procedural requirements, "low" for administrative items
- article_text: The text content from this section
- requirement: The concise requirement statement (the specific mandate)
- requirement_description: A brief description of what the requirement means

Requirements in this section (JSON array, empty [] if none found):`

const controlTemplate = `For the following compliance requirement, suggest appropriate controls in JSON format.
Each control should have priority, control_title, and control description.

Requirement: %s

Output a JSON array where each item has:
- priority: "high", "medium", or "low"
- control_title: A descriptive title for the control
- control: Detailed control description

Suggested Controls (JSON array):`

func buildPrompt(task domain.InferenceTask, payload domain.InferencePayload) (string, error) {
	switch task {
	case domain.TaskDiscoverRequirements:
		return fmt.Sprintf(requirementTemplate,
			payload.DocumentName,
			payload.SectionNumber, payload.SectionNumber, payload.Text,
			payload.SectionNumber,
		), nil
	case domain.TaskSuggestControls:
		return fmt.Sprintf(controlTemplate, strings.TrimSpace(payload.Text)), nil
	default:
		return "", fmt.Errorf("unknown inference task %q", task)
	}
}
