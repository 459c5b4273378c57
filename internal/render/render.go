// Package render converts message bodies between the chat platform's mrkdwn
// dialect and the helpdesk's HTML/Markdown comments.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/ticketbridge/internal/conversation"
)

// MaxSectionLength is the chat platform's limit for a section block's text.
const MaxSectionLength = 3000

// MentionResolver returns a display name for a chat user id, or "" when the
// user is unknown.
type MentionResolver func(ctx context.Context, orgID int64, platformUserID string) string

// Attachment is a file to preview under a rendered comment.
type Attachment struct {
	Name        string
	URL         string
	ContentType string
}

// Comment is a helpdesk comment ready for rendering into the chat thread.
type Comment struct {
	Body        string // Markdown
	Attachments []Attachment
}

type Renderer struct {
	mentions MentionResolver
}

func New(mentions MentionResolver) *Renderer {
	return &Renderer{mentions: mentions}
}

var (
	mdOnce sync.Once
	md     goldmark.Markdown
)

func markdown() goldmark.Markdown {
	mdOnce.Do(func() {
		md = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldhtml.WithHardWraps()),
		)
	})
	return md
}

// RenderHTML renders a chat message as the HTML body of a ticket comment.
func (r *Renderer) RenderHTML(ctx context.Context, org *conversation.Organization, msg *conversation.Message) (string, error) {
	source := r.mrkdwnToMarkdown(ctx, org, msg.Text)

	var buf bytes.Buffer
	if err := markdown().Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render message %d: %w", msg.ID, err)
	}
	if len(msg.Attachments) > 0 {
		buf.WriteString("<ul>\n")
		for _, a := range msg.Attachments {
			fmt.Fprintf(&buf, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(a.URL), html.EscapeString(attachmentName(a.Name, a.URL)))
		}
		buf.WriteString("</ul>\n")
	}
	return buf.String(), nil
}

var (
	userMention = regexp.MustCompile(`<@([A-Z0-9]+)>`)
	labeledLink = regexp.MustCompile(`<((?:https?|mailto):[^|>]+)\|([^>]+)>`)
	bareLink    = regexp.MustCompile(`<((?:https?|mailto):[^|>]+)>`)
	channelRef  = regexp.MustCompile(`<#[A-Z0-9]+\|([^>]+)>`)
	boldSpan    = regexp.MustCompile(`(^|[\s(])\*([^*\n]+)\*`)
	italicSpan  = regexp.MustCompile(`(^|[\s(])_([^_\n]+)_`)
	strikeSpan  = regexp.MustCompile(`(^|[\s(])~([^~\n]+)~`)
)

// mrkdwnToMarkdown rewrites the chat dialect into CommonMark. Code spans and
// fences are left untouched.
func (r *Renderer) mrkdwnToMarkdown(ctx context.Context, org *conversation.Organization, text string) string {
	parts := strings.Split(text, "```")
	for i := range parts {
		if i%2 == 1 {
			continue
		}
		parts[i] = r.convertInline(ctx, org, parts[i])
	}
	return strings.Join(parts, "```")
}

func (r *Renderer) convertInline(ctx context.Context, org *conversation.Organization, s string) string {
	segments := strings.Split(s, "`")
	for i := range segments {
		if i%2 == 1 {
			continue
		}
		seg := segments[i]
		seg = userMention.ReplaceAllStringFunc(seg, func(m string) string {
			id := userMention.FindStringSubmatch(m)[1]
			if r.mentions != nil && org != nil {
				if name := r.mentions(ctx, org.ID, id); name != "" {
					return "@" + name
				}
			}
			return "@" + id
		})
		seg = channelRef.ReplaceAllString(seg, "#$1")
		seg = labeledLink.ReplaceAllString(seg, "[$2]($1)")
		seg = bareLink.ReplaceAllString(seg, "$1")
		seg = boldSpan.ReplaceAllString(seg, "$1**$2**")
		seg = italicSpan.ReplaceAllString(seg, "$1*$2*")
		seg = strikeSpan.ReplaceAllString(seg, "$1~~$2~~")
		seg = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&").Replace(seg)
		segments[i] = seg
	}
	return strings.Join(segments, "`")
}

func attachmentName(name, url string) string {
	if name != "" {
		return name
	}
	if i := strings.LastIndex(url, "/"); i >= 0 && i < len(url)-1 {
		return url[i+1:]
	}
	return url
}
