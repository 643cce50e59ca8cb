package main

import (
	"github.com/AdinAck/Headlights-App/internal/prefs"
	"github.com/AdinAck/Headlights-App/internal/transport"
)

// resolveID parses args[0] if given, falling back to the favorite.
func resolveID(args []string, store prefs.Store) (transport.ID, error) {
	if len(args) > 0 && args[0] != "" {
		return transport.ParseID(args[0])
	}
	if id, ok := store.Favorite(); ok {
		return id, nil
	}
	return "", ErrNoHeadlight
}
