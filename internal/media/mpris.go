// Package media implements the media source over the MPRIS D-Bus interface.
// Each query runs on its own session-bus connection: the underlying handles
// are never shared across concurrent contexts, matching the engine's
// single-use worker discipline.
package media

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/procsentry/procsentry/internal/logger"
	"github.com/procsentry/procsentry/internal/snapshot"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisPath       = "/org/mpris/MediaPlayer2"
	mprisInterface  = "org.mpris.MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
)

// Source queries active MPRIS players and attributes them to a process.
type Source struct {
	// playerName, when set, matches sessions by player identity or bus name
	// instead of owner pid. Some players (browser sandboxes, flatpaks) own
	// their bus connection from a helper process, which pid matching misses.
	playerName string
}

// NewSource creates a media source. playerName is optional; see Source.
func NewSource(playerName string) *Source {
	return &Source{playerName: playerName}
}

// SessionsFor returns the media sessions attributable to pid, sorted by bus
// name so repeated queries are comparable index by index.
func (s *Source) SessionsFor(ctx context.Context, pid int32) ([]snapshot.MediaSession, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}

	var sessions []snapshot.MediaSession
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		session := s.readSession(ctx, conn, name)
		if !s.matches(ctx, conn, name, session.PlayerName, pid) {
			continue
		}
		sessions = append(sessions, session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Owner < sessions[j].Owner
	})
	return sessions, nil
}

// matches decides whether a player belongs to the monitored process, by
// explicit player name when configured, else by bus-connection owner pid.
func (s *Source) matches(ctx context.Context, conn *dbus.Conn, busName, identity string, pid int32) bool {
	if s.playerName != "" {
		return matchesName(busName, identity, s.playerName)
	}

	var owner uint32
	err := conn.BusObject().CallWithContext(ctx,
		"org.freedesktop.DBus.GetConnectionUnixProcessID", 0, busName).Store(&owner)
	if err != nil {
		logger.WithComponent("media-source").Debug().Err(err).
			Str("bus_name", busName).Msg("cannot resolve bus-name owner")
		return false
	}
	return owner == uint32(pid)
}

func matchesName(busName, identity, want string) bool {
	want = strings.ToLower(want)
	suffix := strings.ToLower(strings.TrimPrefix(busName, mprisPrefix))
	if strings.Contains(suffix, want) {
		return true
	}
	return strings.Contains(strings.ToLower(identity), want)
}

// readSession reads identity, playback status and track metadata. Every
// field is best effort; an uncooperative player yields an empty session.
func (s *Source) readSession(ctx context.Context, conn *dbus.Conn, busName string) snapshot.MediaSession {
	session := snapshot.MediaSession{Owner: busName}
	obj := conn.Object(busName, mprisPath)

	if v, err := obj.GetProperty(mprisInterface + ".Identity"); err == nil {
		session.PlayerName = variantString(v)
	}
	if v, err := obj.GetProperty(playerInterface + ".PlaybackStatus"); err == nil {
		session.PlaybackStatus = variantString(v)
	}

	v, err := obj.GetProperty(playerInterface + ".Metadata")
	if err != nil {
		return session
	}
	metadata, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return session
	}

	session.Title = variantString(metadata["xesam:title"])
	session.Album = variantString(metadata["xesam:album"])
	session.Artist = artistString(metadata["xesam:artist"])
	session.TrackID = variantString(metadata["mpris:trackid"])

	return session
}

func variantString(v dbus.Variant) string {
	switch val := v.Value().(type) {
	case string:
		return val
	case dbus.ObjectPath:
		return string(val)
	default:
		return ""
	}
}

// artistString joins the xesam:artist list, which players ship either as a
// string array or a bare string.
func artistString(v dbus.Variant) string {
	switch val := v.Value().(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}
