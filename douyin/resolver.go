// Package douyin locates the live room's like surfaces and comment box on a
// rod page and adapts them to the action interfaces.
package douyin

import (
	"context"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"

	"github.com/nikshitha/douyin-live-helper/action"
	"github.com/nikshitha/douyin-live-helper/logger"
)

// Resolver implements action.Resolver and stealth.Pointer for one page
type Resolver struct {
	page   *rod.Page
	logger *logger.Logger
}

// NewResolver creates a resolver for page
func NewResolver(page *rod.Page, log *logger.Logger) *Resolver {
	return &Resolver{page: page, logger: log.WithModule("douyin")}
}

// Page returns the underlying page
func (r *Resolver) Page() *rod.Page {
	return r.page
}

// FindLikeTarget returns the heart button, player container and video, any
// of which may be missing. It fails with action.ErrTargetNotFound only when
// all three are.
func (r *Resolver) FindLikeTarget(ctx context.Context) (*action.LikeTarget, error) {
	page := r.page.Context(ctx)

	target := &action.LikeTarget{}
	if el := r.first(page, heartSelectors, minHeartSize, minHeartSize); el != nil {
		target.Control = &clickable{el: el}
	}
	if el := r.first(page, containerSelectors, minPlayerW, minPlayerH); el != nil {
		target.Content = &clickable{el: el}
	}
	if el := r.first(page, videoSelectors, minPlayerW, minPlayerH); el != nil {
		target.Video = &clickable{el: el}
	} else if el := r.largest(page, "video", minPlayerW, minPlayerH); el != nil {
		target.Video = &clickable{el: el}
	}

	if target.Control == nil && target.Content == nil && target.Video == nil {
		return nil, action.ErrTargetNotFound
	}

	origin, err := screenOrigin(page)
	if err != nil {
		r.logger.WithError(err).Debug("Screen origin unavailable")
	}
	target.ScreenOrigin = origin
	return target, nil
}

// FindCommentInput returns the chat box, falling back to the lowest visible
// editable region on the page
func (r *Resolver) FindCommentInput(ctx context.Context) (action.Editable, error) {
	page := r.page.Context(ctx)

	if el := r.first(page, inputSelectors, minInputW, minInputH); el != nil {
		return &editable{el: el, page: page}, nil
	}
	for _, sel := range []string{`[contenteditable="true"]`, `textarea`} {
		if el := r.lowest(page, sel, minInputW, minInputH); el != nil {
			return &editable{el: el, page: page}, nil
		}
	}
	return nil, action.ErrTargetNotFound
}

// CapturePageContext returns the room title and visible product text,
// trimmed for use in a generation prompt
func (r *Resolver) CapturePageContext(ctx context.Context) (string, error) {
	res, err := r.page.Context(ctx).Eval(`(max) => {
		const parts = [document.title];
		const pick = ['[data-e2e="live-room-title"]', '[class*="goods"]', '[class*="product"]', '[class*="explain"]'];
		for (const sel of pick) {
			document.querySelectorAll(sel).forEach(el => {
				const t = (el.innerText || '').trim();
				if (t) parts.push(t);
			});
		}
		return parts.join('\n').slice(0, max);
	}`, maxContextLen)
	if err != nil {
		return "", errors.Wrap(err, "capture page context")
	}
	return strings.TrimSpace(res.Value.Str()), nil
}

// Screenshot captures the visible viewport as PNG
func (r *Resolver) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := r.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, errors.Wrap(err, "screenshot")
	}
	return data, nil
}

// IsLoggedIn reports whether the page shows a signed-in viewer
func (r *Resolver) IsLoggedIn(ctx context.Context) bool {
	page := r.page.Context(ctx)
	for _, sel := range loginSelectors {
		if els, err := page.Elements(sel); err == nil && len(els) > 0 {
			return true
		}
	}
	return false
}

// MoveTo implements stealth.Pointer
func (r *Resolver) MoveTo(x, y float64) error {
	return errors.Wrap(r.page.Mouse.MoveTo(proto.Point{X: x, Y: y}), "mouse move")
}

// Scroll implements stealth.Pointer
func (r *Resolver) Scroll(dx, dy float64) error {
	return errors.Wrap(r.page.Mouse.Scroll(dx, dy, 1), "mouse scroll")
}

// Viewport implements stealth.Pointer
func (r *Resolver) Viewport() (float64, float64, error) {
	res, err := r.page.Eval(`() => ({w: window.innerWidth, h: window.innerHeight})`)
	if err != nil {
		return 0, 0, errors.Wrap(err, "viewport")
	}
	return res.Value.Get("w").Num(), res.Value.Get("h").Num(), nil
}

// first returns the first visible element matching any selector, in order,
// whose box is at least minW×minH
func (r *Resolver) first(page *rod.Page, selectors []string, minW, minH float64) *rod.Element {
	for _, sel := range selectors {
		els, err := page.Elements(sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if box, ok := visibleBox(el); ok && box.Width >= minW && box.Height >= minH {
				return el
			}
		}
	}
	return nil
}

// largest returns the visible match with the biggest area
func (r *Resolver) largest(page *rod.Page, selector string, minW, minH float64) *rod.Element {
	els, err := page.Elements(selector)
	if err != nil {
		return nil
	}
	var best *rod.Element
	var area float64
	for _, el := range els {
		box, ok := visibleBox(el)
		if !ok || box.Width < minW || box.Height < minH {
			continue
		}
		if a := box.Width * box.Height; a > area {
			best, area = el, a
		}
	}
	return best
}

// lowest returns the visible match nearest the bottom of the viewport
func (r *Resolver) lowest(page *rod.Page, selector string, minW, minH float64) *rod.Element {
	els, err := page.Elements(selector)
	if err != nil {
		return nil
	}
	var best *rod.Element
	top := -1.0
	for _, el := range els {
		box, ok := visibleBox(el)
		if !ok || box.Width < minW || box.Height < minH {
			continue
		}
		if box.Y > top {
			best, top = el, box.Y
		}
	}
	return best
}

func visibleBox(el *rod.Element) (action.Rect, bool) {
	visible, err := el.Visible()
	if err != nil || !visible {
		return action.Rect{}, false
	}
	rect, err := elementRect(el)
	if err != nil || rect.Empty() {
		return action.Rect{}, false
	}
	return rect, true
}

func elementRect(el *rod.Element) (action.Rect, error) {
	shape, err := el.Shape()
	if err != nil {
		return action.Rect{}, errors.Wrap(err, "element shape")
	}
	box := shape.Box()
	if box == nil {
		return action.Rect{}, errors.New("element has no layout box")
	}
	return action.Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func screenOrigin(page *rod.Page) (action.Point, error) {
	res, err := page.Eval(`() => ({
		x: window.screenX,
		y: window.screenY + (window.outerHeight - window.innerHeight)
	})`)
	if err != nil {
		return action.Point{}, errors.Wrap(err, "screen origin")
	}
	return action.Point{X: res.Value.Get("x").Num(), Y: res.Value.Get("y").Num()}, nil
}
