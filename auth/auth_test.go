package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/nikshitha/douyin-live-helper/storage"
)

type countingChecker struct {
	calls  atomic.Int32
	afterN int32
}

func (c *countingChecker) IsLoggedIn(ctx context.Context) bool {
	n := c.calls.Add(1)
	return c.afterN > 0 && n >= c.afterN
}

func TestWaitForLogin(t *testing.T) {
	tests := []struct {
		name    string
		afterN  int32
		timeout time.Duration
		wantErr error
	}{
		{name: "already signed in", afterN: 1, timeout: time.Second},
		{name: "signs in while waiting", afterN: 3, timeout: time.Second},
		{name: "never signs in", afterN: 0, timeout: 30 * time.Millisecond, wantErr: ErrLoginTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &countingChecker{afterN: tt.afterN}
			err := WaitForLogin(context.Background(), checker, tt.timeout, time.Millisecond)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("WaitForLogin() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWaitForLoginCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForLogin(ctx, &countingChecker{}, 0, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLiveCookies(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	cookies := []*storage.SessionCookie{
		{Name: "session", Expires: 0},
		{Name: "expired", Expires: float64(now.Unix() - 60)},
		{Name: "fresh", Expires: float64(now.Unix() + 3600)},
	}

	got := LiveCookies(cookies, now)
	if len(got) != 2 || got[0].Name != "session" || got[1].Name != "fresh" {
		t.Errorf("unexpected cookies: %+v", got)
	}
}

func TestCookieConversion(t *testing.T) {
	network := []*proto.NetworkCookie{
		{Name: "sessionid", Value: "abc", Domain: ".douyin.com", Path: "/", Expires: 1893456000, HTTPOnly: true, Secure: true},
		{Name: "ttwid", Value: "xyz", Domain: ".douyin.com", Path: "/", Expires: -1},
	}

	stored := FromNetworkCookies(network)
	if len(stored) != 2 || stored[0].Expires != 1893456000 || !stored[0].HTTPOnly {
		t.Fatalf("unexpected stored cookies: %+v", stored[0])
	}

	params := ToCookieParams(stored)
	if params[0].Expires != proto.TimeSinceEpoch(1893456000) || params[0].Domain != ".douyin.com" {
		t.Errorf("unexpected param: %+v", params[0])
	}
	if params[1].Expires != 0 {
		t.Errorf("session cookie should carry no expiry, got %v", params[1].Expires)
	}
}
