// Package rendering turns enhancement payloads of loosely specified shape
// into an ordered list of independently selectable blocks.
package rendering

// BlockKind describes how a block's content was laid out.
type BlockKind string

const (
	KindSection     BlockKind = "section"
	KindList        BlockKind = "list"
	KindValue       BlockKind = "value"
	KindUnparseable BlockKind = "unparseable"
)

// UnparseableBlockID is the id of the single block produced for a payload
// that is not valid JSON.
const UnparseableBlockID = "unparseable"

// Row is a label/value pair, used for section fields and stray scalars.
type Row struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Item is one entry of a list. Details hold every remaining member of an
// object item so nothing is dropped.
type Item struct {
	Label   string `json:"label"`
	Code    string `json:"code,omitempty"`
	Details []Row  `json:"details,omitempty"`
}

// List is a rendered array together with its classification.
type List struct {
	Key   string   `json:"key"`
	Title string   `json:"title"`
	Kind  ListKind `json:"kind"`
	Items []Item   `json:"items"`
}

// Block is one selectable unit of enhanced documentation.
type Block struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Kind        BlockKind `json:"kind"`
	Style       string    `json:"style,omitempty"`
	Text        string    `json:"text,omitempty"`
	Rows        []Row     `json:"rows,omitempty"`
	Lists       []List    `json:"lists,omitempty"`
	Subsections []Block   `json:"subsections,omitempty"`
	// Raw is the compact JSON of the value the block was built from.
	Raw string `json:"raw"`
	// Path locates the value in the payload; see PayloadNode.Lookup.
	Path []string `json:"path"`
}

// IDs returns the block ids in render order.
func IDs(blocks []Block) []string {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	return ids
}
