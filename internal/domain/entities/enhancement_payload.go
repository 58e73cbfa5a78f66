package entities

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// NodeKind identifies the JSON type held by a PayloadNode.
type NodeKind int

const (
	NodeNull NodeKind = iota
	NodeBool
	NodeNumber
	NodeString
	NodeObject
	NodeArray
)

// Member is one key/value pair of a JSON object, kept in document order.
type Member struct {
	Key   string
	Value *PayloadNode
}

// PayloadNode is an immutable, order-preserving JSON tree. Enhancement
// payloads are decoded into it rather than into maps because section order
// drives the order of the final document.
type PayloadNode struct {
	Kind    NodeKind
	Bool    bool
	Number  json.Number
	Str     string
	Members []Member
	Items   []*PayloadNode
}

// ParsePayload decodes raw JSON into a PayloadNode. Trailing data after the
// first value is rejected.
func ParsePayload(raw []byte) (*PayloadNode, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	node, err := decodeNode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return node, nil
}

func decodeNode(dec *json.Decoder) (*PayloadNode, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			node := &PayloadNode{Kind: NodeObject}
			index := map[string]int{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("expected object key, got %v", keyTok)
				}
				value, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				// Duplicate keys keep their first position but the last value.
				if pos, seen := index[key]; seen {
					node.Members[pos].Value = value
					continue
				}
				index[key] = len(node.Members)
				node.Members = append(node.Members, Member{Key: key, Value: value})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return node, nil
		case '[':
			node := &PayloadNode{Kind: NodeArray}
			for dec.More() {
				item, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				node.Items = append(node.Items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return node, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", v)
	case nil:
		return &PayloadNode{Kind: NodeNull}, nil
	case bool:
		return &PayloadNode{Kind: NodeBool, Bool: v}, nil
	case json.Number:
		return &PayloadNode{Kind: NodeNumber, Number: v}, nil
	case string:
		return &PayloadNode{Kind: NodeString, Str: v}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// IsObject reports whether the node is a JSON object.
func (n *PayloadNode) IsObject() bool { return n != nil && n.Kind == NodeObject }

// IsArray reports whether the node is a JSON array.
func (n *PayloadNode) IsArray() bool { return n != nil && n.Kind == NodeArray }

// IsScalar reports whether the node is a string, number, bool or null.
func (n *PayloadNode) IsScalar() bool {
	return n != nil && n.Kind != NodeObject && n.Kind != NodeArray
}

// Get returns the value stored under key on an object node.
func (n *PayloadNode) Get(key string) (*PayloadNode, bool) {
	if !n.IsObject() {
		return nil, false
	}
	for _, m := range n.Members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// Has reports whether an object node carries key.
func (n *PayloadNode) Has(key string) bool {
	_, ok := n.Get(key)
	return ok
}

// Keys returns object keys in document order.
func (n *PayloadNode) Keys() []string {
	if !n.IsObject() {
		return nil
	}
	keys := make([]string, len(n.Members))
	for i, m := range n.Members {
		keys[i] = m.Key
	}
	return keys
}

// Lookup walks path from n. Array steps are decimal indexes.
func (n *PayloadNode) Lookup(path ...string) (*PayloadNode, bool) {
	cur := n
	for _, step := range path {
		switch {
		case cur.IsObject():
			next, ok := cur.Get(step)
			if !ok {
				return nil, false
			}
			cur = next
		case cur.IsArray():
			idx, err := strconv.Atoi(step)
			if err != nil || idx < 0 || idx >= len(cur.Items) {
				return nil, false
			}
			cur = cur.Items[idx]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// Text returns a display string for scalars and compact JSON for containers.
func (n *PayloadNode) Text() string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case NodeNull:
		return ""
	case NodeBool:
		return strconv.FormatBool(n.Bool)
	case NodeNumber:
		return n.Number.String()
	case NodeString:
		return n.Str
	}
	raw, err := n.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(raw)
}

// StringField returns the text of key when it holds a non-empty scalar.
func (n *PayloadNode) StringField(key string) string {
	v, ok := n.Get(key)
	if !ok || !v.IsScalar() {
		return ""
	}
	return v.Text()
}

// IsEmpty reports whether the node carries no content at all.
func (n *PayloadNode) IsEmpty() bool {
	if n == nil {
		return true
	}
	switch n.Kind {
	case NodeNull:
		return true
	case NodeString:
		return n.Str == ""
	case NodeObject:
		return len(n.Members) == 0
	case NodeArray:
		return len(n.Items) == 0
	}
	return false
}

// MarshalJSON writes compact JSON, keeping member order.
func (n *PayloadNode) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *PayloadNode) writeJSON(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}
	switch n.Kind {
	case NodeNull:
		buf.WriteString("null")
	case NodeBool:
		buf.WriteString(strconv.FormatBool(n.Bool))
	case NodeNumber:
		buf.WriteString(n.Number.String())
	case NodeString:
		raw, err := json.Marshal(n.Str)
		if err != nil {
			return err
		}
		buf.Write(raw)
	case NodeObject:
		buf.WriteByte('{')
		for i, m := range n.Members {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := m.Value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case NodeArray:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unknown node kind %d", n.Kind)
	}
	return nil
}

// UnmarshalJSON lets PayloadNode sit inside other JSON documents.
func (n *PayloadNode) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePayload(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}
