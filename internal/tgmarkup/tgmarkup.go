// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package tgmarkup provides functionality to convert Markdown text to
// Telegram-flavored message markup.
package tgmarkup

import (
	"strings"
	"unicode/utf16"

	"rsc.io/markdown"
)

// Message represents a Telegram message with text and entities for formatting.
// It is designed to be marshaled into JSON for use with the Telegram Bot API.
// See https://core.telegram.org/bots/api#message for more information.
type Message struct {
	Text     string   `json:"text"`
	Entities []Entity `json:"entities"`
}

// Type represents the type of a Telegram message entity.
// See https://core.telegram.org/bots/api#messageentity for a complete list of
// supported types.
type Type string

// Constants for various Telegram message entity types.
const (
	Bold          Type = "bold"
	Italic        Type = "italic"
	Strikethrough Type = "strikethrough"
	Blockquote    Type = "blockquote"
	Code          Type = "code" // monowidth string
	Pre           Type = "pre"  // monowidth block
	TextLink      Type = "text_link"
	URL           Type = "url"
)

// Entity represents a Telegram message entity. It defines the type and
// location of a formatted part of the message text.
type Entity struct {
	Type Type `json:"type"`
	// Offset in UTF-16 code units to the start of the entity.
	Offset int `json:"offset"`
	// Length of the entity in UTF-16 code units.
	Length int `json:"length"`
	// Optional. For "text_link" only, URL that will be opened after user taps
	// on the text.
	URL string `json:"url,omitempty"`
	// Optional. For "pre" only, the programming language of the entity text.
	Language string `json:"language,omitempty"`
}

// FromMarkdown converts a Markdown text to a [Message].
func FromMarkdown(text string) Message {
	var p markdown.Parser
	doc := p.Parse(text)

	c := &converter{}
	for _, b := range doc.Blocks {
		c.block(b)
	}

	return Message{
		Text:     c.sb.String(),
		Entities: c.entities,
	}
}

type converter struct {
	sb       strings.Builder
	entities []Entity
}

func (c *converter) offset() int { return utf16len(c.sb.String()) }

func (c *converter) mark(t Type, offset int) {
	c.entities = append(c.entities, Entity{
		Type:   t,
		Offset: offset,
		Length: c.offset() - offset,
	})
}

func (c *converter) block(b markdown.Block) {
	switch block := b.(type) {
	case *markdown.Paragraph:
		c.inlines(block.Text.Inline)
		c.sb.WriteString("\n")
	case *markdown.Quote:
		offset := c.offset()
		for _, b := range block.Blocks {
			c.block(b)
		}
		c.mark(Blockquote, offset)
	case *markdown.CodeBlock:
		offset := c.offset()
		for _, line := range block.Text {
			c.sb.WriteString(line)
			c.sb.WriteString("\n")
		}
		e := Entity{
			Type:   Pre,
			Offset: offset,
			Length: c.offset() - offset - 1,
		}
		if block.Info != "" {
			e.Language = block.Info
		}
		c.entities = append(c.entities, e)
	case *markdown.Heading:
		offset := c.offset()
		c.inlines(block.Text.Inline)
		c.sb.WriteString("\n")
		c.entities = append(c.entities, Entity{
			Type:   Bold,
			Offset: offset,
			Length: c.offset() - offset - 1,
		})
	case *markdown.List:
		for _, itemBlock := range block.Items {
			item, ok := itemBlock.(*markdown.Item)
			if !ok {
				continue
			}
			for _, b := range item.Blocks {
				c.block(b)
			}
		}
	}
}

func (c *converter) inlines(inlines []markdown.Inline) {
	for _, inline := range inlines {
		c.inline(inline)
	}
}

func (c *converter) inline(i markdown.Inline) {
	switch inline := i.(type) {
	case *markdown.Plain:
		c.sb.WriteString(inline.Text)
	case *markdown.Strong:
		offset := c.offset()
		c.inlines(inline.Inner)
		c.mark(Bold, offset)
	case *markdown.Emph:
		offset := c.offset()
		c.inlines(inline.Inner)
		c.mark(Italic, offset)
	case *markdown.Del:
		offset := c.offset()
		c.inlines(inline.Inner)
		c.mark(Strikethrough, offset)
	case *markdown.Link:
		offset := c.offset()
		c.inlines(inline.Inner)
		c.entities = append(c.entities, Entity{
			Type:   TextLink,
			Offset: offset,
			Length: c.offset() - offset,
			URL:    inline.URL,
		})
	case *markdown.AutoLink:
		offset := c.offset()
		c.sb.WriteString(inline.Text)
		c.mark(URL, offset)
	case *markdown.Code:
		offset := c.offset()
		c.sb.WriteString(inline.Text)
		c.mark(Code, offset)
	case *markdown.SoftBreak, *markdown.HardBreak:
		c.sb.WriteString("\n")
	}
}

func utf16len(s string) int {
	return len(utf16.Encode([]rune(s)))
}
