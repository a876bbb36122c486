package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:3002/ws/state", "patternbrainz state WebSocket URL")
		maxCues = flag.Int("cues", 8, "Number of recent cues to show")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		fmt.Fprintf(os.Stderr, "error: invalid websocket URL %q\n", *wsURL)
		os.Exit(1)
	}

	feed := newFeed(u.String())
	go feed.run()
	defer feed.close()

	p := tea.NewProgram(NewModel(feed, *maxCues), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
