package douyin

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"

	"github.com/nikshitha/douyin-live-helper/action"
)

// Events are dispatched from inside the page so they reach the site's own
// listeners the same way a user's would.
const (
	dispatchMouseJS = `(type, cx, cy, sx, sy, button, buttons, detail) => {
		this.dispatchEvent(new MouseEvent(type, {
			bubbles: true, cancelable: true, view: window,
			clientX: cx, clientY: cy, screenX: sx, screenY: sy,
			button: button, buttons: buttons, detail: detail
		}));
	}`

	dispatchKeyJS = `(type, key, code, keyCode) => {
		const ev = new KeyboardEvent(type, {
			bubbles: true, cancelable: true, key: key, code: code,
			keyCode: keyCode, which: keyCode
		});
		this.dispatchEvent(ev);
	}`

	setTextJS = `(text) => {
		if ('value' in this) {
			this.value = text;
		} else {
			this.textContent = text;
		}
		this.dispatchEvent(new InputEvent('input', {bubbles: true, data: text, inputType: 'insertText'}));
	}`
)

// clickable adapts an element to action.Clickable
type clickable struct {
	el *rod.Element
}

func (c *clickable) Bounds(ctx context.Context) (action.Rect, error) {
	return elementRect(c.el.Context(ctx))
}

func (c *clickable) DispatchMouse(ctx context.Context, ev action.MouseEvent) error {
	_, err := c.el.Context(ctx).Eval(dispatchMouseJS,
		ev.Type, ev.ClientX, ev.ClientY, ev.ScreenX, ev.ScreenY, ev.Button, ev.Buttons, ev.Detail)
	return errors.Wrapf(err, "dispatch %s", ev.Type)
}

// editable adapts the comment box to action.Editable
type editable struct {
	el   *rod.Element
	page *rod.Page
}

func (e *editable) Focus(ctx context.Context) error {
	return errors.Wrap(e.el.Context(ctx).Focus(), "focus")
}

func (e *editable) ScrollIntoView(ctx context.Context) error {
	return errors.Wrap(e.el.Context(ctx).ScrollIntoView(), "scroll into view")
}

func (e *editable) Clear(ctx context.Context) error {
	return e.SetText(ctx, "")
}

// InsertText types at the caret through the browser's input pipeline
func (e *editable) InsertText(ctx context.Context, text string) error {
	return errors.Wrap(proto.InputInsertText{Text: text}.Call(e.page.Context(ctx)), "insert text")
}

func (e *editable) SetText(ctx context.Context, text string) error {
	_, err := e.el.Context(ctx).Eval(setTextJS, text)
	return errors.Wrap(err, "set text")
}

func (e *editable) DispatchKey(ctx context.Context, ev action.KeyEvent) error {
	_, err := e.el.Context(ctx).Eval(dispatchKeyJS, ev.Type, ev.Key, ev.Code, ev.KeyCode)
	return errors.Wrapf(err, "dispatch %s", ev.Type)
}
