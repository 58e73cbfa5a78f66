package rendering

import (
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
)

// ListKind is the specialised layout chosen for an array.
type ListKind string

const (
	ListGeneric    ListKind = "generic"
	ListMedication ListKind = "medication"
	ListCondition  ListKind = "condition"
	ListProcedure  ListKind = "procedure"
)

// codeFields are the member names treated as an item's code, in priority order.
var codeFields = []string{"code", "cpt", "cpt_code", "icd", "icd10", "icd_code", "snomed", "rxnorm"}

var procedureCodeFields = []string{"cpt", "cpt_code", "code"}

// ClassifyList picks a layout for the array stored under key. The key name
// wins when it is one of the known list keys; otherwise the first element is
// sniffed. Anything unrecognised falls back to ListGeneric.
func ClassifyList(key string, list *entities.PayloadNode) ListKind {
	switch key {
	case "medications":
		return ListMedication
	case "conditions":
		return ListCondition
	case "procedures":
		return ListProcedure
	}

	if !list.IsArray() || len(list.Items) == 0 {
		return ListGeneric
	}
	first := list.Items[0]
	if !first.IsObject() {
		return ListGeneric
	}

	switch {
	case first.Has("name") && first.Has("dosage"):
		return ListMedication
	case first.Has("title") && first.Has("description"):
		return ListCondition
	case first.Has("name") && hasAny(first, procedureCodeFields):
		return ListProcedure
	}
	return ListGeneric
}

func hasAny(node *entities.PayloadNode, keys []string) bool {
	for _, k := range keys {
		if node.Has(k) {
			return true
		}
	}
	return false
}

// itemCode returns the first populated code field and its key.
func itemCode(node *entities.PayloadNode) (string, string) {
	for _, k := range codeFields {
		if v := node.StringField(k); v != "" {
			return k, v
		}
	}
	return "", ""
}

// bestLabel picks name, then title, then description, then the value itself.
func bestLabel(node *entities.PayloadNode) (string, string) {
	if node.IsObject() {
		for _, k := range []string{"name", "title", "description"} {
			if v := node.StringField(k); v != "" {
				return k, v
			}
		}
	}
	return "", node.Text()
}

// buildItem lays out one array element according to kind.
func buildItem(kind ListKind, node *entities.PayloadNode) Item {
	if !node.IsObject() {
		return Item{Label: node.Text()}
	}

	labelKey, label := bestLabel(node)
	if kind == ListCondition {
		// Conditions are headed by their title; description becomes detail.
		if t := node.StringField("title"); t != "" {
			labelKey, label = "title", t
		}
	}

	if labelKey == "" {
		return Item{Label: label}
	}

	codeKey, code := itemCode(node)

	item := Item{Label: label, Code: code}
	for _, m := range node.Members {
		if m.Key == labelKey || (codeKey != "" && m.Key == codeKey) {
			continue
		}
		if m.Value.IsEmpty() {
			continue
		}
		item.Details = append(item.Details, Row{Label: TitleCase(m.Key), Value: m.Value.Text()})
	}
	return item
}
