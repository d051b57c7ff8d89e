// SPDX-License-Identifier: MIT

package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// MouseButton names the buttons the command surface exposes.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

func (b MouseButton) proto() proto.InputMouseButton {
	switch b {
	case ButtonRight:
		return proto.InputMouseButtonRight
	case ButtonMiddle:
		return proto.InputMouseButtonMiddle
	default:
		return proto.InputMouseButtonLeft
	}
}

// MoveMouse issues steps incremental moves spaced 1ms apart so recordings
// show a continuous path instead of a teleport.
func (d *Driver) MoveMouse(fromX, fromY, toX, toY float64, steps int) error {
	if steps < 1 {
		steps = 1
	}
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := fromX + (toX-fromX)*t
		y := fromY + (toY-fromY)*t
		if err := d.page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
			return fmt.Errorf("mouse move step %d: %w", i, err)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// MouseDown presses a button without releasing.
func (d *Driver) MouseDown(button MouseButton) error {
	if err := d.page.Mouse.Down(button.proto(), 1); err != nil {
		return fmt.Errorf("mouse down %s: %w", button, err)
	}
	return nil
}

// MouseUp releases a button.
func (d *Driver) MouseUp(button MouseButton) error {
	if err := d.page.Mouse.Up(button.proto(), 1); err != nil {
		return fmt.Errorf("mouse up %s: %w", button, err)
	}
	return nil
}

// Click issues a full press/release.
func (d *Driver) Click(button MouseButton) error {
	if err := d.page.Mouse.Click(button.proto(), 1); err != nil {
		return fmt.Errorf("mouse click %s: %w", button, err)
	}
	return nil
}

// Wheel emits one wheel event. Positive dy scrolls down.
func (d *Driver) Wheel(dx, dy float64) error {
	if err := d.page.Mouse.Scroll(dx, dy, 1); err != nil {
		return fmt.Errorf("mouse wheel: %w", err)
	}
	return nil
}

// TypeText inserts literal text into the focused element.
func (d *Driver) TypeText(text string) error {
	if err := d.page.InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// KeyPress taps a single named key.
func (d *Driver) KeyPress(name string) error {
	key, ok := lookupKey(name)
	if !ok {
		return fmt.Errorf("unknown key %q", name)
	}
	if err := d.page.Keyboard.Type(key); err != nil {
		return fmt.Errorf("key press %s: %w", name, err)
	}
	return nil
}

// KeyCombo presses modifier, taps the main key, and always releases the
// modifier, even when the tap fails.
func (d *Driver) KeyCombo(modifier, name string) error {
	mod, ok := lookupModifier(modifier)
	if !ok {
		return fmt.Errorf("unknown modifier %q", modifier)
	}
	key, ok := lookupKey(name)
	if !ok {
		return fmt.Errorf("unknown key %q", name)
	}
	if err := d.page.Keyboard.Press(mod); err != nil {
		return fmt.Errorf("modifier down %s: %w", modifier, err)
	}
	typeErr := d.page.Keyboard.Type(key)
	if err := d.page.Keyboard.Release(mod); err != nil && typeErr == nil {
		typeErr = fmt.Errorf("modifier up %s: %w", modifier, err)
	}
	if typeErr != nil {
		return fmt.Errorf("key combo %s-%s: %w", modifier, name, typeErr)
	}
	return nil
}

func lookupModifier(name string) (input.Key, bool) {
	switch strings.ToLower(name) {
	case "ctrl", "control":
		return input.ControlLeft, true
	case "shift":
		return input.ShiftLeft, true
	case "alt":
		return input.AltLeft, true
	case "meta", "cmd", "command":
		return input.MetaLeft, true
	}
	return 0, false
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Space,
	"arrowup":    input.ArrowUp,
	"up":         input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"down":       input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"left":       input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"right":      input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
}

func lookupKey(name string) (input.Key, bool) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, true
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return input.Key(runes[0]), true
	}
	return 0, false
}
