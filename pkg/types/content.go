package types

import "encoding/json"

// ContentType discriminates ContentItem variants.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentResource ContentType = "resource"
)

// ContentItem is a discriminated union for tool result content.
// Type field determines which other fields are populated.
//
// Invariants:
//   - type="text":     Text is set
//   - type="image":    Data (base64) and MimeType are set
//   - type="resource": URI is set; Name, Description, MimeType and Text are optional
type ContentItem struct {
	Type ContentType `json:"type"`

	// type="text", optionally type="resource"
	Text string `json:"text,omitempty"`

	// type="image"
	Data string `json:"data,omitempty"`

	// type="image" | "resource"
	MimeType string `json:"mimeType,omitempty"`

	// type="resource"
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// TextContent builds a text item.
func TextContent(text string) ContentItem {
	return ContentItem{Type: ContentText, Text: text}
}

// MarshalJSON produces a clean JSON representation with only fields relevant to the item type.
func (ci ContentItem) MarshalJSON() ([]byte, error) {
	switch ci.Type {
	case ContentText:
		return json.Marshal(struct {
			Type ContentType `json:"type"`
			Text string      `json:"text"`
		}{Type: ContentText, Text: ci.Text})

	case ContentImage:
		return json.Marshal(struct {
			Type     ContentType `json:"type"`
			Data     string      `json:"data"`
			MimeType string      `json:"mimeType"`
		}{Type: ContentImage, Data: ci.Data, MimeType: ci.MimeType})

	case ContentResource:
		return json.Marshal(struct {
			Type        ContentType `json:"type"`
			URI         string      `json:"uri"`
			Name        string      `json:"name,omitempty"`
			Description string      `json:"description,omitempty"`
			MimeType    string      `json:"mimeType,omitempty"`
			Text        string      `json:"text,omitempty"`
		}{ContentResource, ci.URI, ci.Name, ci.Description, ci.MimeType, ci.Text})

	default:
		type alias ContentItem
		return json.Marshal(alias(ci))
	}
}
