// Probe opens a live room with the same launch settings as the helper and
// prints which like, comment and login selectors match. Use it when Douyin
// changes its markup.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nikshitha/douyin-live-helper/browser"
	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/douyin"
	"github.com/nikshitha/douyin-live-helper/logger"
	"github.com/nikshitha/douyin-live-helper/stealth"
)

var (
	room = flag.String("room", "", "Live room id or URL")
	wait = flag.Duration("wait", 5*time.Second, "How long to let the room render before probing")
	keep = flag.Duration("keep", 10*time.Second, "How long to keep the browser open afterwards")
)

func main() {
	flag.Parse()

	url, err := douyin.RoomURL(*room)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	cfg.Room.URL = url
	log, err := logger.New(logger.Config{Level: "warn"})
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	fmt.Println("Launching browser with same settings as main app...")
	b := browser.NewBrowser(cfg, log, stealth.NewManager(&cfg.Stealth, log, nil, nil))
	if err := b.Launch(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer b.Close()

	ctx := context.Background()
	if err := b.Navigate(ctx, url); err != nil {
		fmt.Println("Error:", err)
		return
	}
	time.Sleep(*wait)

	fmt.Printf("\nSelectors on %s:\n\n", url)
	group := ""
	for _, m := range douyin.Probe(ctx, b.GetPage(), douyin.SelectorGroups()) {
		if m.Group != group {
			group = m.Group
			fmt.Printf("[%s]\n", group)
		}
		mark := " "
		if m.Visible > 0 {
			mark = "*"
		}
		fmt.Printf("  %s %-60s found=%d visible=%d\n", mark, m.Selector, m.Found, m.Visible)
	}

	resolver := douyin.NewResolver(b.GetPage(), log)
	if _, err := resolver.FindLikeTarget(ctx); err != nil {
		fmt.Println("\nLike target: not found")
	} else {
		fmt.Println("\nLike target: ok")
	}
	if _, err := resolver.FindCommentInput(ctx); err != nil {
		fmt.Println("Comment input: not found")
	} else {
		fmt.Println("Comment input: ok")
	}
	fmt.Println("Signed in:", resolver.IsLoggedIn(ctx))

	fmt.Printf("\nKeeping browser open for %s...\n", *keep)
	time.Sleep(*keep)
}
