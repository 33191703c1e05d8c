package driver

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// observedElement mirrors the JSON shape produced by observeJS.
type observedElement struct {
	Selector    string `json:"selector"`
	Kind        string `json:"kind"`
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Name        string `json:"name,omitempty"`
	Href        string `json:"href,omitempty"`
}

// Observe extracts the visible interactive elements from the rendered
// page so the resolver works against real selectors, not guesses.
func (s *Session) Observe(ctx context.Context) (docs.PageContext, error) {
	runCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var (
		url      string
		title    string
		elements []observedElement
	)
	err := chromedp.Run(runCtx,
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.Evaluate(observeJS, &elements),
	)
	if err != nil {
		return docs.PageContext{}, fmt.Errorf("observe page: %w", err)
	}

	page := docs.PageContext{URL: url, Title: title}
	for _, el := range elements {
		page.Elements = append(page.Elements, docs.PageElement{
			Selector:    el.Selector,
			Kind:        el.Kind,
			Text:        el.Text,
			Placeholder: el.Placeholder,
			Name:        el.Name,
			Href:        el.Href,
		})
	}
	return page, nil
}

// observeJS collects visible interactive elements with stable unique
// selectors. Invisible elements (no offsetParent) are skipped.
const observeJS = `(() => {
  const elements = [];
  const seen = new Set();

  function validIdent(s) {
    if (!s || s.length === 0) return false;
    if (/^[0-9]/.test(s) || /^-[0-9]/.test(s)) return false;
    if (/[.:#\[\]()>~+*\/\\]/.test(s)) return false;
    return true;
  }

  function getSelector(el) {
    if (el.id && validIdent(el.id)) return '#' + el.id;
    if (el.name) return el.tagName.toLowerCase() + '[name="' + el.name + '"]';
    if (el.className && typeof el.className === 'string') {
      const classes = el.className.trim().split(/\s+/).filter(validIdent).slice(0, 2);
      if (classes.length > 0) {
        const sel = el.tagName.toLowerCase() + '.' + classes.join('.');
        try {
          if (document.querySelectorAll(sel).length === 1) return sel;
        } catch (e) {}
      }
    }
    const parent = el.parentElement;
    if (parent) {
      const index = Array.from(parent.children).indexOf(el) + 1;
      const parentSel = getSelector(parent);
      if (parentSel) return parentSel + ' > ' + el.tagName.toLowerCase() + ':nth-child(' + index + ')';
    }
    return el.tagName.toLowerCase();
  }

  function push(el, kind, extra) {
    if (!el.offsetParent && el.tagName !== 'BODY') return;
    const selector = getSelector(el);
    if (seen.has(selector)) return;
    seen.add(selector);
    elements.push(Object.assign({
      selector: selector,
      kind: kind,
      text: (el.textContent || el.value || '').trim().slice(0, 60),
      name: el.name || '',
    }, extra || {}));
  }

  document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]')
    .forEach(el => push(el, 'button'));

  document.querySelectorAll('input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea')
    .forEach(el => push(el, el.type || 'text', {placeholder: el.placeholder || '', text: ''}));

  document.querySelectorAll('select').forEach(el => push(el, 'select', {text: ''}));

  document.querySelectorAll('a[href]').forEach(el => {
    const href = el.getAttribute('href');
    if (!href || href.startsWith('#') || href.startsWith('javascript:')) return;
    push(el, 'link', {href: href});
  });

  return elements;
})()`
