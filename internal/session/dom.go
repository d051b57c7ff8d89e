// SPDX-License-Identifier: MIT

package session

import (
	"os"
	"path/filepath"

	"github.com/rabbitize/rabbitize/internal/rabbiteyes"
)

// domCoordsScript collects interactable and structural elements with their
// viewport positions for downstream tooling. Selector groups are curated to
// keep the output useful without dumping the whole DOM; list items only
// count in short lists.
const domCoordsScript = `() => {
  const selectors = [
    'h1,h2,h3,h4,h5,h6',
    'button,a,select,input,textarea,[role=button]',
    'nav,.nav,.navigation,.menu',
    'article,section,.card,.container,.content',
    'td,th',
    'img[alt]',
    '[data-testid],[aria-label]',
  ];

  const vw = window.innerWidth;
  const vh = window.innerHeight;
  const seen = new Set();
  const elements = [];

  const visible = (el) => {
    const s = window.getComputedStyle(el);
    return s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
  };

  const capture = (el) => {
    if (seen.has(el) || !visible(el)) { return; }
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) { return; }
    if (r.right < 0 || r.bottom < 0 || r.left > vw || r.top > vh) { return; }
    seen.add(el);

    let text = (el.innerText || el.textContent || '').trim();
    if (text.length > 200) { text = text.slice(0, 200) + '...'; }

    const attributes = {};
    for (const name of ['href', 'alt', 'src', 'placeholder', 'type']) {
      const v = el.getAttribute(name);
      if (v !== null) { attributes[name] = v; }
    }
    for (const attr of el.attributes) {
      if (attr.name.startsWith('data-') || attr.name.startsWith('aria-')) {
        attributes[attr.name] = attr.value;
      }
    }

    elements.push({
      tagName: el.tagName.toLowerCase(),
      id: el.id || '',
      classNames: typeof el.className === 'string' ? el.className : '',
      text,
      attributes,
      position: {
        x: Math.round(r.x),
        y: Math.round(r.y),
        w: Math.round(r.width),
        h: Math.round(r.height),
        centerX: Math.round(r.x + r.width / 2),
        centerY: Math.round(r.y + r.height / 2),
      },
    });
  };

  for (const sel of selectors) {
    document.querySelectorAll(sel).forEach(capture);
  }
  // List items only from short lists to avoid drowning in navigation menus.
  document.querySelectorAll('ul,ol').forEach((list) => {
    const items = list.querySelectorAll(':scope > li');
    if (items.length < 10) { items.forEach(capture); }
  });

  return {
    viewport: { width: vw, height: vh },
    metadata: {
      title: document.title,
      url: location.href,
      timestamp: new Date().toISOString(),
      elementCount: elements.length,
    },
    elements,
  };
}`

// timeoutPageHTML is rendered locally when a navigation exceeds its
// ceiling, so the post-state screenshot documents the failure. The query
// string carries the failed URL and the configured timeout.
const timeoutPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Navigation timeout</title>
<style>
  body { font-family: sans-serif; background: #1a1a2e; color: #eee;
         display: flex; align-items: center; justify-content: center;
         height: 100vh; margin: 0; }
  .box { max-width: 640px; padding: 32px; background: #16213e;
         border-radius: 12px; border: 2px solid #e94560; }
  h1 { color: #e94560; margin-top: 0; }
  code { background: #0f3460; padding: 2px 6px; border-radius: 4px;
         word-break: break-all; }
</style>
</head>
<body>
<div class="box">
  <h1>Navigation timeout</h1>
  <p>The page at <code id="url"></code> did not finish loading within
     <span id="timeout"></span>.</p>
</div>
<script>
  const params = new URLSearchParams(location.search);
  document.getElementById('url').textContent = params.get('url') || 'unknown';
  document.getElementById('timeout').textContent = params.get('timeout') || 'the limit';
</script>
</body>
</html>
`

// writeTimeoutPage drops timeout.html into the session root and returns its
// absolute path.
func writeTimeoutPage(root string) (string, error) {
	path := filepath.Join(root, "timeout.html")
	if err := os.WriteFile(path, []byte(timeoutPageHTML), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func rabbitEyesCommandEvent(e *Engine, index int, wire []string, success bool) rabbiteyes.Event {
	return rabbiteyes.Event{
		Type:      "command_executed",
		ClientID:  e.tree.ClientID,
		TestID:    e.tree.TestID,
		SessionID: e.tree.SessionID,
		Command:   wire,
		Index:     &index,
		Success:   &success,
	}
}
