// Package assembly merges an approved block selection into the final note
// text.
package assembly

import (
	"strings"
	"time"

	"github.com/zatekoja/clinicalnotes/backend/internal/application/rendering"
	"github.com/zatekoja/clinicalnotes/backend/internal/application/selection"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

// DefaultHeader opens every assembled note unless Metadata.Header is set.
const DefaultHeader = "CLINICAL NOTE"

// Metadata is the externally supplied context printed around the blocks.
type Metadata struct {
	Header        string
	NoteID        string
	PatientID     string
	EncounterID   string
	CorrelationID string
	ClinicianName string
	ClinicianID   string
	PayerName     string
	PayerID       string
	GeneratedAt   time.Time
}

// Assemble renders payload and writes every selected block, in payload order,
// between a fixed preamble and trailer. The output depends only on its
// arguments, so identical inputs always give byte-identical text.
func Assemble(payload *entities.PayloadNode, selected selection.Set, meta Metadata) (string, error) {
	if payload == nil {
		return "", apperrors.NewValidationError("no enhancement payload to assemble")
	}

	var b strings.Builder
	writePreamble(&b, payload, meta)

	for _, block := range rendering.Render(payload) {
		if !selected.Contains(block.ID) {
			continue
		}
		writeBlock(&b, block, "##")
	}

	writeTrailer(&b, meta)
	return b.String(), nil
}

func writePreamble(b *strings.Builder, payload *entities.PayloadNode, meta Metadata) {
	header := meta.Header
	if header == "" {
		header = DefaultHeader
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("=", len(header)) + "\n")

	writeField(b, "Note ID", meta.NoteID)
	writeField(b, "Patient ID", meta.PatientID)
	writeField(b, "Encounter ID", meta.EncounterID)
	writeField(b, "Clinician", withID(meta.ClinicianName, meta.ClinicianID))
	writeField(b, "Payer", withID(meta.PayerName, meta.PayerID))
	writeField(b, "Document", payload.StringField("title"))
	b.WriteString("\n")
}

func writeTrailer(b *strings.Builder, meta Metadata) {
	b.WriteString("---\n")
	generated := ""
	if !meta.GeneratedAt.IsZero() {
		generated = meta.GeneratedAt.UTC().Format(time.RFC3339)
	}
	b.WriteString("Generated: " + generated + "\n")
	b.WriteString("Correlation ID: " + meta.CorrelationID + "\n")
}

func writeBlock(b *strings.Builder, block rendering.Block, heading string) {
	b.WriteString(heading + " " + block.Title + "\n")

	if block.Kind == rendering.KindUnparseable || block.Kind == rendering.KindValue {
		if block.Text != "" {
			b.WriteString(block.Text + "\n")
		}
	}
	for _, row := range block.Rows {
		writeField(b, row.Label, row.Value)
	}
	for _, list := range block.Lists {
		writeList(b, list, len(block.Lists) > 1 || block.Kind == rendering.KindSection)
	}
	for _, sub := range block.Subsections {
		b.WriteString("\n")
		writeBlock(b, sub, heading+"#")
	}
	if heading == "##" {
		b.WriteString("\n")
	}
}

func writeList(b *strings.Builder, list rendering.List, titled bool) {
	if titled {
		b.WriteString(list.Title + ":\n")
	}
	for _, item := range list.Items {
		line := "- " + item.Label
		if item.Code != "" {
			line += " [" + item.Code + "]"
		}
		b.WriteString(line + "\n")
		for _, d := range item.Details {
			b.WriteString("    " + d.Label + ": " + d.Value + "\n")
		}
	}
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString(label + ": " + value + "\n")
}

func withID(name, id string) string {
	switch {
	case name == "":
		return id
	case id == "":
		return name
	}
	return name + " (" + id + ")"
}

// NoteFilename returns a filename-safe identifier for a finalized note.
func NoteFilename(noteID string, generatedAt time.Time) string {
	var safe strings.Builder
	for _, r := range noteID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			safe.WriteRune(r)
		default:
			safe.WriteRune('-')
		}
	}
	return "clinical-note-" + generatedAt.UTC().Format("20060102T150405Z") + "-" + safe.String() + ".txt"
}
