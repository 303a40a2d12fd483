// Package action turns a decision to like or comment into the low-level
// input events a person would produce. It never decides when to act.
package action

import (
	"context"
	"errors"
)

var (
	// ErrTargetNotFound means the page has no element to act on
	ErrTargetNotFound = errors.New("action target not found")
	// ErrActionInFlight means a previous call is still working through its steps
	ErrActionInFlight = errors.New("action already in flight")
	// ErrEmptyText means there is nothing to submit
	ErrEmptyText = errors.New("comment text is empty")
)

// Point is a viewport coordinate
type Point struct {
	X, Y float64
}

// Rect is an element's bounding box in viewport coordinates
type Rect struct {
	X, Y, Width, Height float64
}

// Center returns the middle of r
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Empty reports whether r has no area
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// MouseEvent is a synthetic mouse event dispatched at a point
type MouseEvent struct {
	Type    string  `json:"type"`
	ClientX float64 `json:"clientX"`
	ClientY float64 `json:"clientY"`
	ScreenX float64 `json:"screenX"`
	ScreenY float64 `json:"screenY"`
	Button  int     `json:"button"`
	Buttons int     `json:"buttons"`
	Detail  int     `json:"detail"`
}

// KeyEvent is a synthetic keyboard event
type KeyEvent struct {
	Type    string `json:"type"`
	Key     string `json:"key"`
	Code    string `json:"code"`
	KeyCode int    `json:"keyCode"`
}

// Clickable is a page region that accepts synthetic mouse events
type Clickable interface {
	Bounds(ctx context.Context) (Rect, error)
	DispatchMouse(ctx context.Context, ev MouseEvent) error
}

// LikeTarget holds the surfaces a like can land on, in fallback order.
// Any of them may be nil.
type LikeTarget struct {
	Control Clickable // the like button itself
	Content Clickable // the stream content region
	Video   Clickable // the raw video element
	// ScreenOrigin is the window's position on screen, added to client
	// coordinates to fill screenX/screenY
	ScreenOrigin Point
}

// Editable is the comment input box
type Editable interface {
	Focus(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	Clear(ctx context.Context) error
	InsertText(ctx context.Context, text string) error
	SetText(ctx context.Context, text string) error
	DispatchKey(ctx context.Context, ev KeyEvent) error
}

// Resolver locates action targets on the live page
type Resolver interface {
	FindLikeTarget(ctx context.Context) (*LikeTarget, error)
	FindCommentInput(ctx context.Context) (Editable, error)
	CapturePageContext(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}
