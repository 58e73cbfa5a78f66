package rendering

import (
	"strconv"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

// reservedRootKeys describe the document rather than hold content.
var reservedRootKeys = map[string]bool{"title": true, "style": true}

// RenderRaw parses raw enhancement JSON and renders it. Invalid JSON yields a
// single unparseable block holding the raw text together with a DataShape
// error, so callers can show a recoverable message.
func RenderRaw(raw []byte) ([]Block, *entities.PayloadNode, error) {
	payload, err := entities.ParsePayload(raw)
	if err != nil {
		return []Block{{
			ID:    UnparseableBlockID,
			Title: "Unparseable Enhancement",
			Kind:  KindUnparseable,
			Text:  string(raw),
			Raw:   string(raw),
		}}, nil, apperrors.NewDataShapeError("enhancement payload is not valid JSON", err)
	}
	return Render(payload), payload, nil
}

// Render lays out payload as ordered, independently selectable blocks. It
// never mutates payload and never fails: values it does not recognise are
// shown verbatim as compact JSON.
func Render(payload *entities.PayloadNode) []Block {
	if payload == nil {
		return nil
	}

	r := &renderer{seen: map[string]int{}}

	switch {
	case payload.IsObject() && payload.Has("sections"):
		sections, _ := payload.Get("sections")
		r.renderSections(sections)
		for _, m := range payload.Members {
			if m.Key == "sections" || reservedRootKeys[m.Key] {
				continue
			}
			r.add(m.Key, renderEntry(m.Key, m.Value, []string{m.Key}))
		}
	case payload.IsArray():
		for i, item := range payload.Items {
			id := "item-" + strconv.Itoa(i)
			r.add(id, renderEntry(id, item, []string{strconv.Itoa(i)}))
		}
	case payload.IsObject():
		for _, m := range payload.Members {
			if reservedRootKeys[m.Key] {
				continue
			}
			r.add(m.Key, renderEntry(m.Key, m.Value, []string{m.Key}))
		}
	default:
		r.add("value", renderEntry("value", payload, nil))
	}

	return r.blocks
}

type renderer struct {
	blocks []Block
	seen   map[string]int
}

// add appends b under a unique id. Collisions (a top-level key repeating a
// section key) get the lowest free numeric suffix in payload order, so ids
// stay stable across renders of the same payload. seen counts the suffixes
// tried per base id and marks every id already emitted.
func (r *renderer) add(id string, b Block) {
	candidate := id
	for r.seen[candidate] > 0 {
		r.seen[id]++
		candidate = id + "-" + strconv.Itoa(r.seen[id])
	}
	r.seen[candidate]++
	b.ID = candidate
	r.blocks = append(r.blocks, b)
}

func (r *renderer) renderSections(sections *entities.PayloadNode) {
	switch {
	case sections.IsObject():
		for _, m := range sections.Members {
			r.add(m.Key, renderEntry(m.Key, m.Value, []string{"sections", m.Key}))
		}
	case sections.IsArray():
		for i, item := range sections.Items {
			id := "item-" + strconv.Itoa(i)
			r.add(id, renderEntry(id, item, []string{"sections", strconv.Itoa(i)}))
		}
	default:
		r.add("sections", renderEntry("sections", sections, []string{"sections"}))
	}
}

// renderEntry builds the block for one section or top-level value.
func renderEntry(key string, node *entities.PayloadNode, path []string) Block {
	b := Block{
		Title: TitleCase(key),
		Raw:   rawJSON(node),
		Path:  path,
	}

	switch {
	case node.IsObject():
		b.Kind = KindSection
		fillContainer(&b, node, path, true)
	case node.IsArray():
		b.Kind = KindList
		b.Lists = []List{buildList(key, node)}
	default:
		b.Kind = KindValue
		b.Text = node.Text()
	}
	return b
}

// fillContainer classifies every member of a section or subsection object.
// Subsections are only expanded one level deep; anything deeper is shown as
// a verbatim row.
func fillContainer(b *Block, node *entities.PayloadNode, path []string, allowSubsections bool) {
	if t := node.StringField("title"); t != "" {
		b.Title = t
	}

	for _, m := range node.Members {
		switch {
		case m.Key == "title" && m.Value.IsScalar():
			continue
		case m.Key == "style" && m.Value.IsScalar():
			b.Style = m.Value.Text()
		case m.Key == "fields" && m.Value.IsObject():
			for _, f := range m.Value.Members {
				b.Rows = append(b.Rows, Row{Label: TitleCase(f.Key), Value: f.Value.Text()})
			}
		case m.Key == "subsections" && allowSubsections && (m.Value.IsObject() || m.Value.IsArray()):
			b.Subsections = append(b.Subsections, renderSubsections(m.Value, append(clonePath(path), m.Key))...)
		case m.Key == "subsections" && !allowSubsections:
			b.Rows = append(b.Rows, Row{Label: TitleCase(m.Key), Value: m.Value.Text()})
		case m.Value.IsArray():
			b.Lists = append(b.Lists, buildList(m.Key, m.Value))
		default:
			b.Rows = append(b.Rows, Row{Label: TitleCase(m.Key), Value: m.Value.Text()})
		}
	}
}

func renderSubsections(node *entities.PayloadNode, path []string) []Block {
	var out []Block
	emit := func(key string, value *entities.PayloadNode, step string) {
		sub := Block{
			ID:    key,
			Title: TitleCase(key),
			Raw:   rawJSON(value),
			Path:  append(clonePath(path), step),
		}
		switch {
		case value.IsObject():
			sub.Kind = KindSection
			fillContainer(&sub, value, sub.Path, false)
		case value.IsArray():
			sub.Kind = KindList
			sub.Lists = []List{buildList(key, value)}
		default:
			sub.Kind = KindValue
			sub.Text = value.Text()
		}
		out = append(out, sub)
	}

	if node.IsArray() {
		for i, item := range node.Items {
			emit("item-"+strconv.Itoa(i), item, strconv.Itoa(i))
		}
		return out
	}
	for _, m := range node.Members {
		emit(m.Key, m.Value, m.Key)
	}
	return out
}

func buildList(key string, node *entities.PayloadNode) List {
	kind := ClassifyList(key, node)
	list := List{Key: key, Title: TitleCase(key), Kind: kind}
	for _, item := range node.Items {
		list.Items = append(list.Items, buildItem(kind, item))
	}
	return list
}

func rawJSON(node *entities.PayloadNode) string {
	raw, err := node.MarshalJSON()
	if err != nil {
		return node.Text()
	}
	return string(raw)
}

func clonePath(path []string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return out
}
