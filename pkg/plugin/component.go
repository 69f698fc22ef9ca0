package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Component is one renderable element of a preview. The set of variants is
// closed: Title, Text, Image and Table. Renderers switch over the concrete
// type and must handle every variant.
type Component interface {
	componentType() string
}

// Title is a heading line.
type Title struct {
	Text string
}

// Text is a block of plain text.
type Text struct {
	Text string
}

// Image is an image either carried inline or referenced by path.
type Image struct {
	Source ImageSource
}

// Table is a grid of cells with optional headers.
type Table struct {
	Headers []string
	Rows    [][]string
}

func (Title) componentType() string { return "title" }
func (Text) componentType() string  { return "text" }
func (Image) componentType() string { return "image" }
func (Table) componentType() string { return "table" }

// ImageSource holds inline image bytes (with a format tag and a unique id so
// renderers can cache decoded textures) or a path reference.
type ImageSource struct {
	Bytes  []byte `json:"bytes,omitempty"`
	Format string `json:"format,omitempty"`
	UID    string `json:"uid,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Inline reports whether the image bytes are carried in the message.
func (s ImageSource) Inline() bool {
	return s.Path == ""
}

// NewInlineImage builds an Image component from raw bytes, assigning it a
// fresh unique identifier.
func NewInlineImage(data []byte, format string) Image {
	return Image{Source: ImageSource{
		Bytes:  data,
		Format: format,
		UID:    uuid.NewString(),
	}}
}

// NewImageRef builds an Image component that references a file on disk.
func NewImageRef(path string) Image {
	return Image{Source: ImageSource{Path: path}}
}

type componentJSON struct {
	Type    string       `json:"type"`
	Text    string       `json:"text,omitempty"`
	Source  *ImageSource `json:"source,omitempty"`
	Headers []string     `json:"headers,omitempty"`
	Rows    [][]string   `json:"rows,omitempty"`
}

// Components is an ordered list of components with a tagged JSON encoding.
type Components []Component

// MarshalJSON encodes each component as an object carrying a "type" tag.
func (cs Components) MarshalJSON() ([]byte, error) {
	out := make([]componentJSON, 0, len(cs))
	for _, c := range cs {
		switch v := c.(type) {
		case Title:
			out = append(out, componentJSON{Type: v.componentType(), Text: v.Text})
		case Text:
			out = append(out, componentJSON{Type: v.componentType(), Text: v.Text})
		case Image:
			src := v.Source
			out = append(out, componentJSON{Type: v.componentType(), Source: &src})
		case Table:
			out = append(out, componentJSON{Type: v.componentType(), Headers: v.Headers, Rows: v.Rows})
		default:
			return nil, fmt.Errorf("unsupported component %T", c)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a tagged component list.
func (cs *Components) UnmarshalJSON(data []byte) error {
	var raw []componentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Components, 0, len(raw))
	for i, r := range raw {
		switch r.Type {
		case "title":
			out = append(out, Title{Text: r.Text})
		case "text":
			out = append(out, Text{Text: r.Text})
		case "image":
			if r.Source == nil || (len(r.Source.Bytes) == 0 && r.Source.Path == "") {
				return fmt.Errorf("component %d: image needs inline bytes or a path", i)
			}
			out = append(out, Image{Source: *r.Source})
		case "table":
			out = append(out, Table{Headers: r.Headers, Rows: r.Rows})
		default:
			return fmt.Errorf("component %d: unknown type %q", i, r.Type)
		}
	}

	*cs = out
	return nil
}
