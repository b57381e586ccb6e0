package diagnose

// reportSchema mirrors domain.DiagnosticReport. It is sent as the response
// schema so the service returns JSON in exactly that shape; the response is
// still validated locally before use.
var reportSchema = &schema{
	Type: "OBJECT",
	Properties: map[string]*schema{
		"problemSummary": {
			Type:        "STRING",
			Description: "A concise summary of the diagnosed problem.",
		},
		"observationsFromMedia": {
			Type:        "STRING",
			Description: "If media (images/videos) was provided, describe what was observed from it. Otherwise, state that no media was provided.",
		},
		"possibleCauses": {
			Type:        "ARRAY",
			Description: "A list of possible causes for the problem, ranked from most to least likely.",
			Items: &schema{
				Type: "OBJECT",
				Properties: map[string]*schema{
					"cause":       {Type: "STRING", Description: "A description of the possible cause."},
					"likelihood":  {Type: "STRING", Enum: []string{"High", "Medium", "Low"}, Description: "The likelihood of this being the cause."},
					"explanation": {Type: "STRING", Description: "An explanation of why this is a possible cause."},
				},
				Required: []string{"cause", "likelihood", "explanation"},
			},
		},
		"diagnosticSteps": {
			Type:        "ARRAY",
			Description: "A step-by-step guide to diagnose the problem further.",
			Items:       &schema{Type: "STRING"},
		},
		"recommendedActions": {
			Type:        "ARRAY",
			Description: "A list of recommended actions to fix the problem.",
			Items: &schema{
				Type: "OBJECT",
				Properties: map[string]*schema{
					"action":     {Type: "STRING", Description: "The recommended action to take."},
					"difficulty": {Type: "STRING", Enum: []string{"DIY", "Intermediate", "Professional"}, Description: "The difficulty level of the action."},
				},
				Required: []string{"action", "difficulty"},
			},
		},
		"requiredPartsAndTools": {
			Type:        "ARRAY",
			Description: "A list of parts and tools that might be required for the repair.",
			Items:       &schema{Type: "STRING"},
		},
		"safetyWarning": {
			Type:        "STRING",
			Description: "An important safety warning regarding the diagnosis and repair process.",
		},
	},
	Required: []string{
		"problemSummary",
		"possibleCauses",
		"diagnosticSteps",
		"recommendedActions",
		"safetyWarning",
	},
}
