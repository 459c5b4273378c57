package chat

import "strings"

// AttachmentBlockPrefix marks blocks that only carry attachment previews.
// They are the first thing dropped when a post is rejected.
const AttachmentBlockPrefix = "attachment-"

type Text struct {
	Type string `json:"type"` // "mrkdwn" or "plain_text"
	Text string `json:"text"`
}

func Markdown(s string) *Text { return &Text{Type: "mrkdwn", Text: s} }

func PlainText(s string) *Text { return &Text{Type: "plain_text", Text: s} }

// Element is an item of a context block: either text or an image.
type Element struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AltText  string `json:"alt_text,omitempty"`
}

type Block struct {
	Type     string    `json:"type"`
	BlockID  string    `json:"block_id,omitempty"`
	Text     *Text     `json:"text,omitempty"`
	Elements []Element `json:"elements,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	AltText  string    `json:"alt_text,omitempty"`
	Title    *Text     `json:"title,omitempty"`
}

func SectionBlock(markdown string) Block {
	return Block{Type: "section", Text: Markdown(markdown)}
}

func ContextBlock(blockID string, elements ...Element) Block {
	return Block{Type: "context", BlockID: blockID, Elements: elements}
}

func (b Block) IsAttachment() bool {
	return strings.HasPrefix(b.BlockID, AttachmentBlockPrefix)
}

// WithoutAttachments returns blocks minus every attachment block.
func WithoutAttachments(blocks []Block) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if !b.IsAttachment() {
			out = append(out, b)
		}
	}
	return out
}
