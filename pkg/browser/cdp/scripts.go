package cdp

import (
	"encoding/json"
	"fmt"
)

// jsString JSON-encodes a value so it can be embedded safely in a script.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// Strings always marshal; keep the fallback cheapest possible.
		return `""`
	}
	return string(b)
}

// existsScript evaluates to true when the selector matches an element.
func existsScript(selector string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
}

// fillScript focuses the matched element, assigns the value, and dispatches
// the input/change events pages listen for. It evaluates to "ok",
// "not_found", or "unsupported".
func fillScript(selector, value string) string {
	return fmt.Sprintf(`(function() {
  const el = document.querySelector(%s);
  if (!el) { return "not_found"; }
  el.focus();
  if ("value" in el) {
    el.value = %s;
  } else if (el.isContentEditable) {
    el.textContent = %s;
  } else {
    return "unsupported";
  }
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return "ok";
})()`, jsString(selector), jsString(value), jsString(value))
}

// clickScript dispatches a synthetic click. Evaluates to false when the
// selector matches nothing.
func clickScript(selector string) string {
	return fmt.Sprintf(`(function() {
  const el = document.querySelector(%s);
  if (!el) { return false; }
  el.click();
  return true;
})()`, jsString(selector))
}

// submitScript submits the matched form. Evaluates to false when the selector
// matches nothing.
func submitScript(selector string) string {
	return fmt.Sprintf(`(function() {
  const form = document.querySelector(%s);
  if (!form) { return false; }
  if (typeof form.requestSubmit === "function") {
    form.requestSubmit();
  } else {
    form.submit();
  }
  return true;
})()`, jsString(selector))
}

// extractResult is the tagged value extractScript evaluates to; the found
// flag distinguishes a missing element from an empty text node.
type extractResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

// extractScript returns the element's inner text, or the named attribute when
// attribute is non-empty.
func extractScript(selector, attribute string) string {
	if attribute != "" {
		return fmt.Sprintf(`(function() {
  const el = document.querySelector(%s);
  if (!el) { return { found: false, value: "" }; }
  const v = el.getAttribute(%s);
  return { found: true, value: v === null ? "" : v };
})()`, jsString(selector), jsString(attribute))
	}
	return fmt.Sprintf(`(function() {
  const el = document.querySelector(%s);
  if (!el) { return { found: false, value: "" }; }
  return { found: true, value: el.innerText || "" };
})()`, jsString(selector))
}

// locationScript evaluates to the page's current href.
const locationScript = `window.location.href`

// pageStateScript evaluates to the title and href in one round trip.
const pageStateScript = `({ title: document.title, href: window.location.href })`

// pageState mirrors pageStateScript's result.
type pageState struct {
	Title string `json:"title"`
	Href  string `json:"href"`
}

// viewportScript evaluates to the inner viewport dimensions.
const viewportScript = `({ width: window.innerWidth, height: window.innerHeight })`

type viewportSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
