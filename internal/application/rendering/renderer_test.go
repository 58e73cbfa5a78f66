package rendering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

func mustParse(t *testing.T, raw string) *entities.PayloadNode {
	t.Helper()
	node, err := entities.ParsePayload([]byte(raw))
	require.NoError(t, err)
	return node
}

func TestRender_SectionsInPayloadOrder(t *testing.T) {
	payload := mustParse(t, `{
		"title": "Progress Note",
		"sections": {
			"chief_complaint": {"title": "Chief Complaint", "fields": {"summary": "Headache"}},
			"plan": {"fields": {"follow_up": "2 weeks"}},
			"assessment": {"style": "bold", "fields": {"impression": "Tension headache"}}
		}
	}`)

	blocks := Render(payload)

	require.Len(t, blocks, 3)
	assert.Equal(t, []string{"chief_complaint", "plan", "assessment"}, IDs(blocks))
	assert.Equal(t, "Chief Complaint", blocks[0].Title)
	assert.Equal(t, []Row{{Label: "Summary", Value: "Headache"}}, blocks[0].Rows)
	assert.Equal(t, "Plan", blocks[1].Title)
	assert.Equal(t, "bold", blocks[2].Style)
	assert.Equal(t, []string{"sections", "plan"}, blocks[1].Path)
}

func TestRender_BareArrayUsesIndexIDs(t *testing.T) {
	blocks := Render(mustParse(t, `["note A","note B"]`))

	require.Len(t, blocks, 2)
	assert.Equal(t, []string{"item-0", "item-1"}, IDs(blocks))
	assert.Equal(t, "note A", blocks[0].Text)
	assert.Equal(t, KindValue, blocks[1].Kind)
}

func TestRender_TopLevelKeysWithoutSections(t *testing.T) {
	blocks := Render(mustParse(t, `{"title":"x","style":"y","hpi":"Two days of pain","vitals":{"bp":"120/80"},"notes":[1,2]}`))

	assert.Equal(t, []string{"hpi", "vitals", "notes"}, IDs(blocks))
	assert.Equal(t, "Two days of pain", blocks[0].Text)
	assert.Equal(t, []Row{{Label: "Bp", Value: "120/80"}}, blocks[1].Rows)
	assert.Equal(t, KindList, blocks[2].Kind)
}

func TestRender_CoversEveryTopLevelKeyOnce(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name:    "root key repeats a section",
			payload: `{"sections":{"plan":{},"meds":{}},"plan":"duplicate key at root","extra":true,"title":"T"}`,
			want:    []string{"plan", "meds", "plan-2", "extra"},
		},
		{
			name:    "suffix already taken by a section",
			payload: `{"sections":{"a":{"fields":{"x":1}},"a-2":{"fields":{"y":2}}},"a":"top"}`,
			want:    []string{"a", "a-2", "a-3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := IDs(Render(mustParse(t, tt.payload)))

			assert.Equal(t, tt.want, ids)
			seen := map[string]bool{}
			for _, id := range ids {
				assert.False(t, seen[id], "duplicate id %s", id)
				seen[id] = true
			}
		})
	}
}

func TestRender_IDsStableAcrossRenders(t *testing.T) {
	raw := `{"sections":{"a":{"fields":{"x":1}},"b":{"items":["one","two"]}}}`
	assert.Equal(t, IDs(Render(mustParse(t, raw))), IDs(Render(mustParse(t, raw))))
}

func TestRender_SubsectionsOneLevelOnly(t *testing.T) {
	payload := mustParse(t, `{"sections":{"exam":{
		"title": "Physical Exam",
		"subsections": {
			"heent": {"title": "HEENT", "fields": {"eyes": "PERRLA"}, "subsections": {"deep": {"fields": {"x": "y"}}}},
			"lungs": {"items": ["clear bilaterally"]}
		}
	}}}`)

	blocks := Render(payload)
	require.Len(t, blocks, 1)
	exam := blocks[0]
	require.Len(t, exam.Subsections, 2)

	heent := exam.Subsections[0]
	assert.Equal(t, "HEENT", heent.Title)
	assert.Empty(t, heent.Subsections)
	assert.Contains(t, heent.Rows, Row{Label: "Eyes", Value: "PERRLA"})
	assert.Contains(t, heent.Rows, Row{Label: "Subsections", Value: `{"deep":{"fields":{"x":"y"}}}`})

	lungs := exam.Subsections[1]
	require.Len(t, lungs.Lists, 1)
	assert.Equal(t, "clear bilaterally", lungs.Lists[0].Items[0].Label)
	assert.Equal(t, []string{"sections", "exam", "subsections", "lungs"}, lungs.Path)
}

func TestRender_SpecialisedLists(t *testing.T) {
	payload := mustParse(t, `{"sections":{"treatment":{
		"medications": [{"name": "Ibuprofen", "dosage": "400 mg", "frequency": "q6h", "rxnorm": "5640"}],
		"conditions": [{"title": "Migraine", "description": "without aura", "icd10": "G43.009"}],
		"procedures": [{"name": "CT head", "cpt": "70450"}],
		"items": [{"title": "Hydrate"}, "Rest"]
	}}}`)

	blocks := Render(payload)
	require.Len(t, blocks, 1)
	lists := blocks[0].Lists
	require.Len(t, lists, 4)

	assert.Equal(t, ListMedication, lists[0].Kind)
	assert.Equal(t, Item{Label: "Ibuprofen", Code: "5640", Details: []Row{
		{Label: "Dosage", Value: "400 mg"},
		{Label: "Frequency", Value: "q6h"},
	}}, lists[0].Items[0])

	assert.Equal(t, ListCondition, lists[1].Kind)
	assert.Equal(t, "Migraine", lists[1].Items[0].Label)
	assert.Equal(t, "G43.009", lists[1].Items[0].Code)

	assert.Equal(t, ListProcedure, lists[2].Kind)
	assert.Equal(t, "70450", lists[2].Items[0].Code)

	assert.Equal(t, ListGeneric, lists[3].Kind)
	assert.Equal(t, "Hydrate", lists[3].Items[0].Label)
	assert.Equal(t, "Rest", lists[3].Items[1].Label)
}

func TestRender_UnrecognisedValuesStringifiedVerbatim(t *testing.T) {
	blocks := Render(mustParse(t, `{"sections":{"misc":{"flags":{"a":[1,{"b":null}]},"count":3,"list":[[1,2],{"k":"v"}]}}}`))

	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0].Rows, Row{Label: "Flags", Value: `{"a":[1,{"b":null}]}`})
	assert.Contains(t, blocks[0].Rows, Row{Label: "Count", Value: "3"})
	require.Len(t, blocks[0].Lists, 1)
	assert.Equal(t, "[1,2]", blocks[0].Lists[0].Items[0].Label)
	assert.Equal(t, `{"k":"v"}`, blocks[0].Lists[0].Items[1].Label)
}

func TestRender_ScalarRootAndNil(t *testing.T) {
	assert.Nil(t, Render(nil))

	blocks := Render(mustParse(t, `"free text only"`))
	require.Len(t, blocks, 1)
	assert.Equal(t, "value", blocks[0].ID)
	assert.Equal(t, "free text only", blocks[0].Text)
}

func TestRender_DoesNotMutatePayload(t *testing.T) {
	raw := `{"sections":{"a":{"title":"A","fields":{"x":"1"},"items":[{"name":"n","dosage":"d"}]}}}`
	payload := mustParse(t, raw)

	Render(payload)

	out, err := payload.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestRender_RawAllowsReExtraction(t *testing.T) {
	payload := mustParse(t, `{"sections":{"plan":{"fields":{"next":"MRI"}}}}`)

	blocks := Render(payload)
	require.Len(t, blocks, 1)

	original, ok := payload.Lookup(blocks[0].Path...)
	require.True(t, ok)
	assert.Equal(t, original.Text(), blocks[0].Raw)
}

func TestRenderRaw_InvalidJSONYieldsUnparseableBlock(t *testing.T) {
	blocks, payload, err := RenderRaw([]byte(`{"sections": {oops`))

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataShape))
	assert.Nil(t, payload)
	require.Len(t, blocks, 1)
	assert.Equal(t, UnparseableBlockID, blocks[0].ID)
	assert.Equal(t, KindUnparseable, blocks[0].Kind)
	assert.Equal(t, `{"sections": {oops`, blocks[0].Text)
}

func TestRenderRaw_ValidJSON(t *testing.T) {
	blocks, payload, err := RenderRaw([]byte(`{"a":"b"}`))

	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, []string{"a"}, IDs(blocks))
}
