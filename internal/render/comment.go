package render

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ticketbridge/internal/chat"
	"github.com/ticketbridge/internal/conversation"
)

// Rendered is a comment converted for the chat platform. Text is the
// notification fallback; Blocks carry the formatted body followed by any
// attachment blocks.
type Rendered struct {
	Text   string
	Blocks []chat.Block
}

// RenderComment converts a Markdown comment into chat blocks.
func (r *Renderer) RenderComment(ctx context.Context, org *conversation.Organization, c Comment) (*Rendered, error) {
	body, err := MarkdownToMrkdwn(c.Body)
	if err != nil {
		return nil, err
	}

	out := &Rendered{Text: truncate(body, MaxSectionLength)}
	for _, chunk := range splitSections(body, MaxSectionLength) {
		out.Blocks = append(out.Blocks, chat.SectionBlock(chunk))
	}
	for i, a := range c.Attachments {
		out.Blocks = append(out.Blocks, attachmentBlock(i, a))
	}
	if out.Text == "" && len(c.Attachments) > 0 {
		out.Text = fmt.Sprintf("%d attachment(s)", len(c.Attachments))
	}
	return out, nil
}

func attachmentBlock(i int, a Attachment) chat.Block {
	id := chat.AttachmentBlockPrefix + strconv.Itoa(i)
	name := attachmentName(a.Name, a.URL)
	link := chat.Element{Type: "mrkdwn", Text: fmt.Sprintf("<%s|%s>", a.URL, escapeMrkdwn(name))}
	if strings.HasPrefix(a.ContentType, "image/") {
		return chat.ContextBlock(id, chat.Element{Type: "image", ImageURL: a.URL, AltText: name}, link)
	}
	return chat.ContextBlock(id, link)
}

// MarkdownToMrkdwn converts CommonMark (with GFM extensions) into the chat
// platform's mrkdwn dialect.
func MarkdownToMrkdwn(source string) (string, error) {
	src := []byte(source)
	doc := markdown().Parser().Parse(text.NewReader(src))
	w := &mrkdwnWriter{source: src}
	if err := w.blocks(doc); err != nil {
		return "", err
	}
	return strings.TrimSpace(w.b.String()), nil
}

type mrkdwnWriter struct {
	source []byte
	b      strings.Builder
	depth  int // list nesting
}

func (w *mrkdwnWriter) blocks(parent ast.Node) error {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if err := w.block(n); err != nil {
			return err
		}
	}
	return nil
}

func (w *mrkdwnWriter) block(n ast.Node) error {
	switch node := n.(type) {
	case *ast.Paragraph:
		w.inlines(node)
		w.b.WriteString("\n\n")
	case *ast.TextBlock:
		w.inlines(node)
		w.b.WriteString("\n")
	case *ast.Heading:
		w.b.WriteString("*")
		w.inlines(node)
		w.b.WriteString("*\n\n")
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		w.b.WriteString("```\n")
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			w.b.Write(seg.Value(w.source))
		}
		w.b.WriteString("```\n\n")
	case *ast.Blockquote:
		inner := &mrkdwnWriter{source: w.source}
		if err := inner.blocks(node); err != nil {
			return err
		}
		for _, line := range strings.Split(strings.TrimRight(inner.b.String(), "\n"), "\n") {
			w.b.WriteString("> " + line + "\n")
		}
		w.b.WriteString("\n")
	case *ast.List:
		w.depth++
		i := node.Start
		if i == 0 {
			i = 1
		}
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			w.b.WriteString(strings.Repeat("    ", w.depth-1))
			if node.IsOrdered() {
				fmt.Fprintf(&w.b, "%d. ", i)
				i++
			} else {
				w.b.WriteString("• ")
			}
			if err := w.listItem(item); err != nil {
				return err
			}
		}
		w.depth--
		if w.depth == 0 {
			w.b.WriteString("\n")
		}
	case *ast.ThematicBreak:
		w.b.WriteString("---\n\n")
	case *extast.Table:
		for row := node.FirstChild(); row != nil; row = row.NextSibling() {
			cells := make([]string, 0)
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cw := &mrkdwnWriter{source: w.source}
				cw.inlines(cell)
				cells = append(cells, strings.TrimSpace(cw.b.String()))
			}
			w.b.WriteString(strings.Join(cells, " | ") + "\n")
		}
		w.b.WriteString("\n")
	case *ast.HTMLBlock:
		// raw HTML has no mrkdwn equivalent
	default:
		return w.blocks(n)
	}
	return nil
}

func (w *mrkdwnWriter) listItem(item ast.Node) error {
	for child := item.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.TextBlock, *ast.Paragraph:
			w.inlines(c)
			w.b.WriteString("\n")
		default:
			if err := w.block(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *mrkdwnWriter) inlines(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.inline(n)
	}
}

func (w *mrkdwnWriter) inline(n ast.Node) {
	switch node := n.(type) {
	case *ast.Text:
		w.b.WriteString(escapeMrkdwn(string(node.Segment.Value(w.source))))
		if node.HardLineBreak() || node.SoftLineBreak() {
			w.b.WriteString("\n")
		}
	case *ast.String:
		w.b.WriteString(escapeMrkdwn(string(node.Value)))
	case *ast.Emphasis:
		mark := "_"
		if node.Level >= 2 {
			mark = "*"
		}
		w.b.WriteString(mark)
		w.inlines(node)
		w.b.WriteString(mark)
	case *extast.Strikethrough:
		w.b.WriteString("~")
		w.inlines(node)
		w.b.WriteString("~")
	case *ast.CodeSpan:
		w.b.WriteString("`")
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				w.b.Write(t.Segment.Value(w.source))
			}
		}
		w.b.WriteString("`")
	case *ast.Link:
		label := &mrkdwnWriter{source: w.source}
		label.inlines(node)
		w.writeLink(string(node.Destination), label.b.String())
	case *ast.Image:
		label := &mrkdwnWriter{source: w.source}
		label.inlines(node)
		w.writeLink(string(node.Destination), label.b.String())
	case *ast.AutoLink:
		w.writeLink(string(node.URL(w.source)), "")
	case *ast.RawHTML:
		// dropped
	default:
		w.inlines(n)
	}
}

func (w *mrkdwnWriter) writeLink(dest, label string) {
	if label == "" || label == dest {
		fmt.Fprintf(&w.b, "<%s>", dest)
		return
	}
	fmt.Fprintf(&w.b, "<%s|%s>", dest, label)
}

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeMrkdwn(s string) string { return mrkdwnEscaper.Replace(s) }

// splitSections breaks text into chunks of at most limit bytes, preferring
// paragraph then line boundaries and never splitting a rune.
func splitSections(s string, limit int) []string {
	var out []string
	for len(s) > 0 {
		if len(s) <= limit {
			out = append(out, s)
			break
		}
		cut := strings.LastIndex(s[:limit], "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(s[:limit], "\n")
		}
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		out = append(out, strings.TrimRight(s[:cut], "\n"))
		s = strings.TrimLeft(s[cut:], "\n")
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
