package diagnose

import (
	"fmt"
	"strings"

	"github.com/lukeponga-dev/rotorwise/engine/attachment"
	"github.com/lukeponga-dev/rotorwise/engine/domain"
	"github.com/lukeponga-dev/rotorwise/pkg/fn"
)

// systemInstruction is fixed for the session and describes the assistant's
// role and the required structured-output shape.
const systemInstruction = `You are "RotorWise AI", an expert automotive diagnostic assistant for all types of vehicles. Your goal is to provide a comprehensive, accurate, and safe diagnostic report based on user-provided information.

Follow these instructions carefully:
1. Analyze the user's description of the problem, any provided VIN, and any uploaded media (images/videos).
2. If media is provided, mention what you observe in the 'observationsFromMedia' field.
3. Generate a diagnostic report in the specified JSON format.
4. The 'problemSummary' should be a brief, one-sentence summary.
5. 'possibleCauses' should be ordered from most likely to least likely.
6. 'diagnosticSteps' should be clear, sequential, and easy for a non-expert to follow.
7. 'recommendedActions' should provide actionable solutions.
8. 'requiredPartsAndTools' is optional, but include it if specific items are needed.
9. The 'safetyWarning' is CRITICAL. Always include a strong, clear safety warning, advising the user to consult a professional if they are unsure, and to prioritize safety above all else (e.g., disconnecting the battery, using jack stands, wearing protective gear).
10. If the VIN is provided, use it to make the diagnosis more specific to the vehicle's make, model, and year.
11. Your tone should be helpful, professional, and reassuring.`

// buildParts assembles the request parts: the textual problem statement
// followed by one inline part per included attachment. Only attachments in
// complete status with a populated payload are included; uploading and
// errored attachments are a client-side concern and are silently excluded.
func buildParts(userInput, vin string, attachments []attachment.Attachment) []part {
	media := fn.FilterMap(attachments, func(a attachment.Attachment) (part, bool) {
		if a.Status != domain.StatusComplete || a.Payload == "" {
			return part{}, false
		}
		return part{InlineData: &inlineData{
			MIMEType: a.MIMEType,
			Data:     a.Payload,
		}}, true
	})

	var lines []string
	lines = append(lines, fmt.Sprintf("Problem Description: %q", userInput))
	if vin != "" {
		lines = append(lines, "VIN: "+vin)
	}
	if len(media) == 0 {
		lines = append(lines, "No media files were provided.")
	}

	return append([]part{{Text: strings.Join(lines, "\n")}}, media...)
}
