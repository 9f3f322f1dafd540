package browser

import (
	"fmt"
)

// Element is a page element addressed through the handle registry kept by
// the injected script. It implements page.Element. All operations run
// against the live DOM; a stale handle degrades to empty reads and
// mount errors.
type Element struct {
	session *Session
	handle  string
	tag     string
}

// Handle returns the registry handle. Stable for the lifetime of the
// underlying DOM node.
func (e *Element) Handle() string { return e.handle }

// Tag returns the element's lowercase tag name.
func (e *Element) Tag() string {
	if e.tag != "" {
		return e.tag
	}
	res, err := e.session.page.Eval(`(h) => {
		const el = window.__ratiometer.get(h);
		return el ? el.tagName.toLowerCase() : '';
	}`, e.handle)
	if err != nil {
		e.session.logger.Warn("browser: read tag", "handle", e.handle, "error", err)
		return ""
	}
	e.tag = res.Value.Str()
	return e.tag
}

// Href returns the resolved href of the first descendant matching
// selector, or "" when absent.
func (e *Element) Href(selector string) string {
	res, err := e.session.page.Eval(`(h, sel) => {
		const el = window.__ratiometer.get(h);
		if (!el) return '';
		const a = el.querySelector(sel);
		return (a && a.href) || '';
	}`, e.handle, selector)
	if err != nil {
		e.session.logger.Warn("browser: read href", "handle", e.handle, "error", err)
		return ""
	}
	return res.Value.Str()
}

// Text returns the trimmed text content of the first descendant matching
// selector, or "" when absent.
func (e *Element) Text(selector string) string {
	res, err := e.session.page.Eval(`(h, sel) => {
		const el = window.__ratiometer.get(h);
		if (!el) return '';
		const n = el.querySelector(sel);
		return n ? n.textContent.trim() : '';
	}`, e.handle, selector)
	if err != nil {
		e.session.logger.Warn("browser: read text", "handle", e.handle, "error", err)
		return ""
	}
	return res.Value.Str()
}

// InsertBefore parses html and inserts it as a sibling immediately before
// the first descendant matching anchorSelector.
func (e *Element) InsertBefore(anchorSelector, html string) error {
	res, err := e.session.page.Eval(`(h, sel, html) => {
		const el = window.__ratiometer.get(h);
		if (!el) return false;
		const anchor = el.querySelector(sel);
		if (!anchor || !anchor.parentElement) return false;
		const tpl = document.createElement('template');
		tpl.innerHTML = html;
		anchor.parentElement.insertBefore(tpl.content, anchor);
		return true;
	}`, e.handle, anchorSelector, html)
	if err != nil {
		return fmt.Errorf("browser: insert before %q: %w", anchorSelector, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: anchor %q not found", anchorSelector)
	}
	return nil
}

// AppendInto parses html and appends it as the last child of the first
// descendant matching containerSelector.
func (e *Element) AppendInto(containerSelector, html string) error {
	res, err := e.session.page.Eval(`(h, sel, html) => {
		const el = window.__ratiometer.get(h);
		if (!el) return false;
		const c = el.querySelector(sel);
		if (!c) return false;
		const tpl = document.createElement('template');
		tpl.innerHTML = html;
		c.appendChild(tpl.content);
		return true;
	}`, e.handle, containerSelector, html)
	if err != nil {
		return fmt.Errorf("browser: append into %q: %w", containerSelector, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: container %q not found", containerSelector)
	}
	return nil
}

// RemoveAll removes every descendant matching selector.
func (e *Element) RemoveAll(selector string) error {
	_, err := e.session.page.Eval(`(h, sel) => {
		const el = window.__ratiometer.get(h);
		if (!el) return;
		el.querySelectorAll(sel).forEach((n) => n.remove());
	}`, e.handle, selector)
	if err != nil {
		return fmt.Errorf("browser: remove %q: %w", selector, err)
	}
	return nil
}
