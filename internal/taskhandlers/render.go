package taskhandlers

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// previewLimit bounds the stored preview, in runes.
const previewLimit = 512

// renderHandler stores a plain-text preview of an HTML paste.
type renderHandler struct {
	d Deps
}

func (h *renderHandler) Run(ctx context.Context, t *models.PasteTask) error {
	id, err := pasteID(t)
	if err != nil {
		return err
	}
	p, err := h.d.Pastes.Get(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	preview, err := HTMLPreview(p.Text, previewLimit)
	if err != nil {
		return err
	}
	return h.d.Pastes.SetPreview(ctx, id, preview)
}

func (h *renderHandler) NeedRetry(*models.PasteTask, error) bool { return false }

// HTMLPreview extracts the visible text of an HTML fragment with runs of
// whitespace collapsed, cut to limit runes.
func HTMLPreview(src string, limit int) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head:
				return
			case atom.Br, atom.P, atom.Div, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3:
				b.WriteByte(' ')
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.Join(strings.FieldsFunc(b.String(), unicode.IsSpace), " ")
	if r := []rune(text); limit > 0 && len(r) > limit {
		text = string(r[:limit])
	}
	return text, nil
}
