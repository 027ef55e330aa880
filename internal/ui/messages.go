// Package ui provides the Bubble Tea TUI for waitwiki.
package ui

import "github.com/abelbrown/waitwiki/internal/model"

// CardLoaded is sent when the engine has answered a card request.
// OK is false when the cache had nothing to show.
type CardLoaded struct {
	Item model.Item
	OK   bool
}

// RetryTick asks for a card again after an empty answer. Background
// replenishment usually has something by then.
type RetryTick struct{}
