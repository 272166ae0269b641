package handshake

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// HiddenForm is an auto-submitting form found in a handshake response.
type HiddenForm struct {
	// Action is absolute, resolved against the url of the document it came from.
	Action string
	Fields map[string]string
}

// FormExtractor finds the next auto-submitting form of the login flow.
//
// Contract: given the raw document and the url it was served from, return the
// form's absolute action url and every hidden field, or an error wrapping
// ErrFormNotFound. Implementations must not perform I/O.
type FormExtractor interface {
	ExtractForm(document []byte, base *url.URL) (HiddenForm, error)
}

// GoqueryFormExtractor looks for the first form matching Selector that has at
// least one hidden input, falling back to any form with hidden inputs.
type GoqueryFormExtractor struct {
	Selector string
}

func NewGoqueryFormExtractor(selector string) GoqueryFormExtractor {
	if selector == "" {
		selector = "form[name]"
	}
	return GoqueryFormExtractor{Selector: selector}
}

func getAttr(node *html.Node, key string) (string, bool) {
	for _, a := range node.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func hiddenFields(form *goquery.Selection) map[string]string {
	fields := map[string]string{}
	for _, input := range form.Find("input").Nodes {
		kind, _ := getAttr(input, "type")
		if !strings.EqualFold(kind, "hidden") {
			continue
		}
		name, ok := getAttr(input, "name")
		if !ok || name == "" {
			continue
		}
		value, _ := getAttr(input, "value")
		fields[name] = value
	}
	return fields
}

func (e GoqueryFormExtractor) ExtractForm(document []byte, base *url.URL) (HiddenForm, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(document))
	if err != nil {
		return HiddenForm{}, fmt.Errorf("%w: parse document: %v", ErrFormNotFound, err)
	}

	var found *goquery.Selection
	var fields map[string]string
	for _, selector := range []string{e.Selector, "form"} {
		doc.Find(selector).EachWithBreak(func(_ int, form *goquery.Selection) bool {
			if goquery.NodeName(form) != "form" {
				return true
			}
			candidate := hiddenFields(form)
			if len(candidate) == 0 {
				return true
			}
			found = form
			fields = candidate
			return false
		})
		if found != nil {
			break
		}
	}
	if found == nil {
		return HiddenForm{}, ErrFormNotFound
	}

	// an absent action submits to the document itself
	action := strings.TrimSpace(found.AttrOr("action", ""))
	target, err := url.Parse(action)
	if err != nil {
		return HiddenForm{}, fmt.Errorf("%w: bad action %q: %v", ErrFormNotFound, action, err)
	}
	if base != nil {
		target = base.ResolveReference(target)
	}
	if !target.IsAbs() {
		return HiddenForm{}, fmt.Errorf("%w: action %q is not absolute", ErrFormNotFound, target)
	}

	return HiddenForm{
		Action: target.String(),
		Fields: fields,
	}, nil
}
