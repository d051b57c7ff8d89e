// SPDX-License-Identifier: MIT

package command

import (
	"context"
)

// rectExtractScript samples visible text nodes inside a rectangle on a
// 10px grid and dedups by text.
const rectExtractScript = `(x1, y1, x2, y2) => {
  const seen = new Set();
  const elements = [];
  const visible = (el) => {
    const s = window.getComputedStyle(el);
    return s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
  };
  for (let y = y1; y <= y2; y += 10) {
    for (let x = x1; x <= x2; x += 10) {
      const el = document.elementFromPoint(x, y);
      if (!el || !visible(el)) { continue; }
      const text = (el.innerText || el.textContent || '').trim();
      if (!text || seen.has(text)) { continue; }
      seen.add(text);
      const r = el.getBoundingClientRect();
      elements.push({ text, bounds: { x: r.x, y: r.y, width: r.width, height: r.height } });
    }
  }
  return { elements, bounds: { x1, y1, x2, y2 } };
}`

// pointExtractScript describes the element under one point.
const pointExtractScript = `(x, y) => {
  const el = document.elementFromPoint(x, y);
  if (!el) { return { text: '', tag: '', id: '', className: '' }; }
  return {
    text: (el.innerText || el.textContent || '').trim(),
    tag: el.tagName.toLowerCase(),
    id: el.id || '',
    className: typeof el.className === 'string' ? el.className : '',
  };
}`

// PageMarkdownScript walks the body depth-first and renders visible content
// as Markdown: headings by level, paragraphs, lists, tables with a header
// row, code blocks and blockquotes. Shared with the step loop's per-command
// DOM snapshot.
const PageMarkdownScript = `() => {
  const out = [];
  const visible = (el) => {
    const s = window.getComputedStyle(el);
    return s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
  };
  const text = (el) => (el.innerText || '').trim();

  const renderTable = (table) => {
    const rows = Array.from(table.querySelectorAll('tr')).filter(visible);
    if (!rows.length) { return; }
    const cells = (tr) => Array.from(tr.querySelectorAll('th,td')).map(c => text(c).replace(/\|/g, '\\|'));
    const header = cells(rows[0]);
    out.push('| ' + header.join(' | ') + ' |');
    out.push('| ' + header.map(() => '---').join(' | ') + ' |');
    for (const tr of rows.slice(1)) {
      out.push('| ' + cells(tr).join(' | ') + ' |');
    }
    out.push('');
  };

  const walk = (node) => {
    if (node.nodeType !== Node.ELEMENT_NODE) { return; }
    const el = node;
    if (!visible(el)) { return; }
    const tag = el.tagName.toLowerCase();
    if (tag === 'script' || tag === 'style' || tag === 'noscript') { return; }

    if (/^h[1-6]$/.test(tag)) {
      const level = parseInt(tag[1], 10);
      const t = text(el);
      if (t) { out.push('#'.repeat(level) + ' ' + t, ''); }
      return;
    }
    if (tag === 'p') {
      const t = text(el);
      if (t) { out.push(t, ''); }
      return;
    }
    if (tag === 'ul' || tag === 'ol') {
      const items = Array.from(el.children).filter(c => c.tagName === 'LI' && visible(c));
      items.forEach((li, i) => {
        const t = text(li);
        if (t) { out.push(tag === 'ol' ? (i + 1) + '. ' + t : '- ' + t); }
      });
      if (items.length) { out.push(''); }
      return;
    }
    if (tag === 'table') { renderTable(el); return; }
    if (tag === 'pre') {
      const t = (el.textContent || '').replace(/\s+$/, '');
      if (t) { out.push('` + "```" + `', t, '` + "```" + `', ''); }
      return;
    }
    if (tag === 'blockquote') {
      const t = text(el);
      if (t) { t.split('\n').forEach(line => out.push('> ' + line)); out.push(''); }
      return;
    }
    for (const child of el.children) { walk(child); }
  };

  walk(document.body);
  return out.join('\n').replace(/\n{3,}/g, '\n\n').trim();
}`

// handleExtract has two forms: four coords sample a rectangle, no coords
// describe the element under the current cursor position.
func handleExtract(ctx context.Context, rt *Runtime, cmd Command) Result {
	if len(cmd.Args) == 0 {
		v, err := rt.Driver.Eval(pointExtractScript, rt.MouseX, rt.MouseY)
		if err != nil {
			return Fail(err.Error())
		}
		return OK().With("element", v.Val())
	}
	var coords [4]float64
	for i := range coords {
		v, err := cmd.Float(i)
		if err != nil {
			return Fail(err.Error())
		}
		coords[i] = v
	}
	v, err := rt.Driver.Eval(rectExtractScript, coords[0], coords[1], coords[2], coords[3])
	if err != nil {
		return Fail(err.Error())
	}
	return OK().With("extraction", v.Val())
}

func handleExtractPage(ctx context.Context, rt *Runtime, cmd Command) Result {
	v, err := rt.Driver.Eval(PageMarkdownScript)
	if err != nil {
		return Fail(err.Error())
	}
	return OK().With("markdown", v.Str())
}
