package openai

import (
	"fmt"
	"strings"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
)

const enhancementSystemPrompt = `You are a clinical documentation assistant. Turn the clinician's free-text note into structured documentation. Return ONLY valid JSON shaped like:
{
  "title": string,
  "sections": {
    "<snake_case_key>": {
      "title": string,
      "fields": { "<snake_case_key>": string },
      "subsections": { "<snake_case_key>": { "title": string, "fields": { ... }, "items": [ ... ] } },
      "items": string[],
      "medications": [ { "name": string, "dosage": string, "rxnorm": string } ],
      "conditions": [ { "title": string, "description": string, "icd10": string } ],
      "procedures": [ { "name": string, "cpt_code": string } ]
    }
  }
}
Every part of a section is optional. Keep sections in the order a clinician would read them (chief complaint, history, exam, assessment, plan). Use only facts stated in the note; never invent findings, doses or codes.`

func buildEnhancementUserPrompt(req entities.EnhanceRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Correlation ID: %s\n", req.CorrelationID)
	if req.PatientContext.Age > 0 {
		fmt.Fprintf(&b, "Patient age: %d\n", req.PatientContext.Age)
	}
	if req.PatientContext.Sex != "" {
		fmt.Fprintf(&b, "Patient sex: %s\n", req.PatientContext.Sex)
	}
	fmt.Fprintf(&b, "Clinical note:\n%s\n", req.ClinicalNotes)
	return b.String()
}

// stripCodeFence removes a Markdown code fence the model sometimes wraps
// around its JSON.
func stripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}
