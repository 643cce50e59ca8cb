package router

import (
	"cmp"
	"slices"

	"github.com/AdinAck/Headlights-App/internal/prefs"
	"github.com/AdinAck/Headlights-App/internal/ringchan"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/cornelk/hashmap"
)

// Discovered returns snapshots of the discovered pool ordered by ID. Safe for
// concurrent use.
func (r *Router) Discovered() []session.Snapshot {
	return snapshots(r.discovered)
}

// Loaded returns snapshots of the loaded pool ordered by ID. Safe for
// concurrent use.
func (r *Router) Loaded() []session.Snapshot {
	return snapshots(r.loaded)
}

// Lookup returns the snapshot of id from either pool.
func (r *Router) Lookup(id transport.ID) (session.Snapshot, bool) {
	sess, ok := r.session(id)
	if !ok {
		return session.Snapshot{}, false
	}
	return sess.Snapshot(), true
}

func (r *Router) Capacity() int { return r.capacity }

func snapshots(pool *hashmap.Map[transport.ID, *session.Session]) []session.Snapshot {
	out := make([]session.Snapshot, 0, pool.Len())
	pool.Range(func(_ transport.ID, sess *session.Session) bool {
		out = append(out, sess.Snapshot())
		return true
	})
	slices.SortFunc(out, func(a, b session.Snapshot) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Subscribe returns a channel receiving every change from now on. A subscriber
// that falls more than buffer changes behind loses the oldest ones.
func (r *Router) Subscribe(buffer int) *ringchan.RingChannel[session.Change] {
	if buffer < 1 {
		buffer = 1
	}
	rc := ringchan.New[session.Change](buffer)
	r.subsMu.Lock()
	r.subs[rc] = struct{}{}
	r.subsMu.Unlock()
	return rc
}

// Unsubscribe stops delivery to rc and closes it.
func (r *Router) Unsubscribe(rc *ringchan.RingChannel[session.Change]) {
	r.subsMu.Lock()
	delete(r.subs, rc)
	r.subsMu.Unlock()
	rc.Close()
}

// Preferences returns the current preference values.
func (r *Router) Preferences() prefs.Preferences {
	return prefs.Snapshot(r.prefs)
}

func (r *Router) Favorite() (transport.ID, bool) { return r.prefs.Favorite() }
func (r *Router) AutoConnect() bool              { return r.prefs.AutoConnect() }

func (r *Router) SetFavorite(id transport.ID) error {
	r.log(id).Info("favorite set")
	return r.prefs.SetFavorite(id)
}

func (r *Router) ClearFavorite() error {
	r.logger.Info("favorite cleared")
	return r.prefs.ClearFavorite()
}

func (r *Router) SetAutoConnect(enabled bool) error {
	r.logger.WithField("enabled", enabled).Info("auto-connect")
	return r.prefs.SetAutoConnect(enabled)
}
