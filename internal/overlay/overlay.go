// SPDX-License-Identifier: MIT

// Package overlay injects the visual feedback layer into every loaded page:
// cursor sprite, command/time overlays, tracking-pixel corner and the
// target=_blank interceptor. Installation is idempotent per document via a
// sentinel on the window object and survives SPA navigations by
// reinstalling on load and main-frame navigation events.
package overlay

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/log"
)

// CursorState mirrors the sprite states the injected script understands.
type CursorState string

const (
	CursorIdle         CursorState = "idle"
	CursorHoverLink    CursorState = "link"      // green
	CursorHoverDrag    CursorState = "draggable" // blue
	CursorDown         CursorState = "down"
	CursorRightDown    CursorState = "right-down"  // blue press
	CursorMiddleDown   CursorState = "middle-down" // green press
	CursorDragging     CursorState = "dragging"    // larger, persistent
	CursorCornerRed    CursorState = "corner-red"
	CursorCornerClear  CursorState = "corner-clear"
	cursorStateUnknown CursorState = ""
)

// Surface drives the injected overlay on one page.
type Surface struct {
	enabled     bool
	interactive bool
	colors      *ColorMap
	logger      zerolog.Logger
}

// New returns a surface. interactive enables the bottom-left time overlay
// reserved for the "interactive" session id.
func New(enabled, interactive bool) *Surface {
	return &Surface{
		enabled:     enabled,
		interactive: interactive,
		colors:      NewColorMap(),
		logger:      log.WithComponent("overlay"),
	}
}

// Colors exposes the verb-to-pattern assignments for color-patterns.json.
func (s *Surface) Colors() *ColorMap { return s.colors }

// Attach installs the overlay into the page and arranges reinstalls on load
// and main-frame navigation. Cross-origin frames are covered best-effort by
// the new-document hook.
func (s *Surface) Attach(page *rod.Page) error {
	if !s.enabled {
		return nil
	}
	js := s.installScript()

	if _, err := page.EvalOnNewDocument(js); err != nil {
		return fmt.Errorf("register overlay init hook: %w", err)
	}
	// The current document predates the hook.
	if _, err := page.Eval(js); err != nil {
		return fmt.Errorf("install overlay: %w", err)
	}

	reinstall := func() {
		if _, err := page.Eval(js); err != nil {
			s.logger.Debug().Err(err).Msg("overlay reinstall failed")
		}
	}
	go page.EachEvent(func(e *proto.PageLoadEventFired) {
		reinstall()
	})()
	go page.EachEvent(func(e *proto.PageFrameNavigated) {
		reinstall()
	})()
	return nil
}

// MoveCursor animates the sprite to viewport coordinates with the 300ms CSS
// transition.
func (s *Surface) MoveCursor(page *rod.Page, x, y float64) error {
	return s.eval(page, `(x, y) => window.__rabbitize && window.__rabbitize.moveCursor(x, y)`, x, y)
}

// SetCursorState switches sprite color/scale.
func (s *Surface) SetCursorState(page *rod.Page, state CursorState) error {
	return s.eval(page, `(st) => window.__rabbitize && window.__rabbitize.setState(st)`, string(state))
}

// Ripple spawns the click ripple at the sprite position; the element removes
// itself after 600ms.
func (s *Surface) Ripple(page *rod.Page) error {
	return s.eval(page, `() => window.__rabbitize && window.__rabbitize.ripple()`)
}

// ShowCommand renders the JSON of the current command in the bottom-right
// overlay for ~2s.
func (s *Surface) ShowCommand(page *rod.Page, command []string) error {
	text, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("marshal command for overlay: %w", err)
	}
	return s.eval(page, `(txt) => window.__rabbitize && window.__rabbitize.showCommand(txt)`, string(text))
}

// ShowCountdown updates the command overlay with the remaining whole seconds
// of a :wait.
func (s *Surface) ShowCountdown(page *rod.Page, remaining int) error {
	return s.eval(page, `(n) => window.__rabbitize && window.__rabbitize.showCommand("wait " + n + "s")`, remaining)
}

// PaintCornerRed paints the tracking corner fully red (pre-command marker).
func (s *Surface) PaintCornerRed(page *rod.Page) error {
	return s.eval(page, `() => window.__rabbitize && window.__rabbitize.corner(["#ff0000","#ff0000","#ff0000","#ff0000"])`)
}

// PaintCornerPattern paints the verb's deterministic 4-color pattern.
func (s *Surface) PaintCornerPattern(page *rod.Page, verb string) error {
	p := s.colors.For(verb)
	return s.eval(page, `(c) => window.__rabbitize && window.__rabbitize.corner(c)`, []string{p[0], p[1], p[2], p[3]})
}

// PaintCornerBlack resets the corner to the idle all-black state.
func (s *Surface) PaintCornerBlack(page *rod.Page) error {
	return s.eval(page, `() => window.__rabbitize && window.__rabbitize.corner(["#000000","#000000","#000000","#000000"])`)
}

func (s *Surface) eval(page *rod.Page, js string, args ...any) error {
	if !s.enabled {
		return nil
	}
	if _, err := page.Eval(js, args...); err != nil {
		return fmt.Errorf("overlay eval: %w", err)
	}
	return nil
}

// installScript renders the idempotent install function. All runtime hooks
// hang off window.__rabbitize so later Evals find them after any navigation
// that re-ran the install.
func (s *Surface) installScript() string {
	timeOverlay := "false"
	if s.interactive {
		timeOverlay = "true"
	}
	return `() => {
  if (window.__rabbitize) { return; }
  const api = {};
  window.__rabbitize = api;

  const style = document.createElement('style');
  style.textContent = ` + "`" + `
    #__rb_cursor { position: fixed; z-index: 2147483646; width: 20px; height: 20px;
      border-radius: 50%; background: rgba(255,60,60,0.85); border: 2px solid #fff;
      pointer-events: none; transition: left 0.3s ease, top 0.3s ease,
      transform 0.15s ease, background 0.15s ease; transform-origin: center; }
    #__rb_cursor.link { background: rgba(60,220,60,0.85); }
    #__rb_cursor.draggable { background: rgba(60,120,255,0.85); }
    #__rb_cursor.down { transform: scale(1.6); background: rgba(255,30,30,1); }
    #__rb_cursor.right-down { transform: scale(1.6); background: rgba(60,120,255,1); }
    #__rb_cursor.middle-down { transform: scale(1.6); background: rgba(60,220,60,1); }
    #__rb_cursor.dragging { transform: scale(2.0); background: rgba(60,120,255,0.95); }
    .__rb_ripple { position: fixed; z-index: 2147483645; width: 12px; height: 12px;
      border-radius: 50%; border: 2px solid rgba(255,255,255,0.9); pointer-events: none;
      animation: __rb_rip 0.6s ease-out forwards; }
    @keyframes __rb_rip { to { transform: scale(5); opacity: 0; } }
    #__rb_cmd { position: fixed; right: 8px; bottom: 12px; z-index: 2147483646;
      font: 12px monospace; color: #fff; background: rgba(0,0,0,0.7);
      padding: 4px 8px; border-radius: 4px; pointer-events: none; display: none; }
    #__rb_time { position: fixed; left: 8px; bottom: 12px; z-index: 2147483646;
      font: 12px monospace; color: #fff; background: rgba(0,0,0,0.7);
      padding: 4px 8px; border-radius: 4px; pointer-events: none; }
    #__rb_corner { position: fixed; right: 0; bottom: 0; width: 4px; height: 4px;
      z-index: 2147483647; pointer-events: none; display: grid;
      grid-template-columns: 2px 2px; grid-template-rows: 2px 2px; }
    .__rb_px { width: 2px; height: 2px; background: #000; }
  ` + "`" + `;
  document.documentElement.appendChild(style);

  const cursor = document.createElement('div');
  cursor.id = '__rb_cursor';
  cursor.style.left = (window.innerWidth / 2) + 'px';
  cursor.style.top = (window.innerHeight / 2) + 'px';
  document.documentElement.appendChild(cursor);

  const cmd = document.createElement('div');
  cmd.id = '__rb_cmd';
  document.documentElement.appendChild(cmd);

  if (` + timeOverlay + `) {
    const clock = document.createElement('div');
    clock.id = '__rb_time';
    document.documentElement.appendChild(clock);
    setInterval(() => { clock.textContent = new Date().toISOString(); }, 250);
  }

  const corner = document.createElement('div');
  corner.id = '__rb_corner';
  const cells = [];
  for (let i = 0; i < 4; i++) {
    const px = document.createElement('div');
    px.className = '__rb_px';
    corner.appendChild(px);
    cells.push(px);
  }
  document.documentElement.appendChild(corner);

  api.moveCursor = (x, y) => {
    cursor.style.left = x + 'px';
    cursor.style.top = y + 'px';
  };
  api.setState = (st) => {
    cursor.className = st === 'idle' ? '' : st;
  };
  api.ripple = () => {
    const r = document.createElement('div');
    r.className = '__rb_ripple';
    r.style.left = cursor.style.left;
    r.style.top = cursor.style.top;
    document.documentElement.appendChild(r);
    setTimeout(() => r.remove(), 600);
  };
  let cmdTimer = null;
  api.showCommand = (txt) => {
    cmd.textContent = txt;
    cmd.style.display = 'block';
    if (cmdTimer) { clearTimeout(cmdTimer); }
    cmdTimer = setTimeout(() => { cmd.style.display = 'none'; }, 2000);
  };
  api.corner = (colors) => {
    for (let i = 0; i < 4; i++) { cells[i].style.background = colors[i]; }
  };

  // Keep single-window semantics: user-trusted clicks on _blank/noopener
  // anchors navigate the top frame instead of opening a new one.
  document.addEventListener('click', (ev) => {
    if (!ev.isTrusted) { return; }
    const a = ev.target && ev.target.closest ? ev.target.closest('a') : null;
    if (!a || !a.href) { return; }
    const rel = (a.getAttribute('rel') || '');
    if (a.target === '_blank' || rel.includes('noopener')) {
      ev.preventDefault();
      window.top.location.href = a.href;
    }
  }, true);
}`
}
