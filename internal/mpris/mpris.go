// Package mpris publishes the daemon on the D-Bus media-player control
// surface (org.mpris.MediaPlayer2) so desktop session managers can
// pause and resume the loopback like any other player. The connector
// is strictly best-effort: a missing or failing bus never disturbs the
// loop machine.
package mpris

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/oszuidwest/zwfm-loopback/internal/loop"
)

const (
	identity   = "zwfm-loopback"
	busName    = "org.mpris.MediaPlayer2.zwfmloopback"
	objectPath = dbus.ObjectPath("/org/mpris/MediaPlayer2")

	rootInterface   = "org.mpris.MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
)

// PlaybackStatus is the published MPRIS status.
type PlaybackStatus = string

// Published playback statuses. Unknown is only visible before the
// machine's first transition.
const (
	StatusPlaying PlaybackStatus = "Playing"
	StatusPaused  PlaybackStatus = "Paused"
	StatusStopped PlaybackStatus = "Stopped"
	StatusUnknown PlaybackStatus = "Unknown"
)

// statusFor maps a machine state onto the published status. Idle keeps
// the player "Stopped": nothing is audibly playing while probing.
func statusFor(state loop.State) PlaybackStatus {
	switch state {
	case loop.StateStreaming:
		return StatusPlaying
	case loop.StateHibernating:
		return StatusPaused
	case loop.StateIdle, loop.StateKilled:
		return StatusStopped
	default:
		return StatusUnknown
	}
}

// Connector owns the D-Bus connection and the exported player object.
// It implements loop.StatusSink.
type Connector struct {
	conn    *dbus.Conn
	props   *prop.Properties
	enqueue func(loop.Command)
}

// Open connects to the requested bus ("session" or "system"), exports
// the MPRIS object tree, and claims the well-known name.
func Open(bus string, enqueue func(loop.Command)) (*Connector, error) {
	var conn *dbus.Conn
	var err error
	switch bus {
	case "session":
		conn, err = dbus.ConnectSessionBus()
	default:
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", bus, err)
	}

	c := &Connector{conn: conn, enqueue: enqueue}

	if err := conn.Export(c, objectPath, playerInterface); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("export player interface: %w", err)
	}
	if err := conn.Export(c, objectPath, rootInterface); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("export root interface: %w", err)
	}

	props, err := prop.Export(conn, objectPath, propertyTable())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("export properties: %w", err)
	}
	c.props = props

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:    rootInterface,
				Methods: []introspect.Method{{Name: "Raise"}, {Name: "Quit"}},
			},
			{
				Name: playerInterface,
				Methods: []introspect.Method{
					{Name: "Play"}, {Name: "Pause"}, {Name: "PlayPause"},
					{Name: "Stop"}, {Name: "Next"}, {Name: "Previous"},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagAllowReplacement|dbus.NameFlagReplaceExisting)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = conn.Close()
		return nil, fmt.Errorf("bus name %s already owned", busName)
	}

	slog.Info("MPRIS surface online", "bus", bus, "name", busName)
	return c, nil
}

// Close releases the bus name and the connection.
func (c *Connector) Close() error {
	if _, err := c.conn.ReleaseName(busName); err != nil {
		slog.Debug("release bus name failed", "error", err)
	}
	return c.conn.Close()
}

// StateChanged mirrors the machine state onto the PlaybackStatus
// property. Property update failures are logged and swallowed.
func (c *Connector) StateChanged(state loop.State) {
	if err := c.props.Set(playerInterface, "PlaybackStatus", dbus.MakeVariant(statusFor(state))); err != nil {
		slog.Warn("cannot publish playback status", "error", err)
	}
}

// status reads the currently published status back from the property
// table.
func (c *Connector) status() PlaybackStatus {
	v, err := c.props.Get(playerInterface, "PlaybackStatus")
	if err != nil {
		return StatusUnknown
	}
	s, _ := v.Value().(string)
	return s
}

// --- org.mpris.MediaPlayer2.Player methods ---

// Play resumes idle probing.
func (c *Connector) Play() *dbus.Error {
	slog.Debug("dbus: play")
	c.enqueue(loop.CommandPlay)
	return nil
}

// Pause hibernates the loop.
func (c *Connector) Pause() *dbus.Error {
	slog.Debug("dbus: pause")
	c.enqueue(loop.CommandStop)
	return nil
}

// PlayPause toggles between probing and hibernation.
func (c *Connector) PlayPause() *dbus.Error {
	slog.Debug("dbus: play/pause")
	switch c.status() {
	case StatusPlaying, StatusStopped:
		c.enqueue(loop.CommandStop)
	default:
		c.enqueue(loop.CommandPlay)
	}
	return nil
}

// Stop hibernates the loop.
func (c *Connector) Stop() *dbus.Error {
	slog.Debug("dbus: stop")
	c.enqueue(loop.CommandStop)
	return nil
}

// Next is declared by the interface but meaningless for a loopback.
func (c *Connector) Next() *dbus.Error { return nil }

// Previous is declared by the interface but meaningless for a loopback.
func (c *Connector) Previous() *dbus.Error { return nil }

// --- org.mpris.MediaPlayer2 methods ---

// Raise is declared by the interface; there is no window to raise.
func (c *Connector) Raise() *dbus.Error { return nil }

// Quit is declined; lifecycle belongs to the service manager.
func (c *Connector) Quit() *dbus.Error { return nil }

// propertyTable is the closed set of properties the connector exposes.
// Get/Set traffic never reaches arbitrary daemon internals; everything
// a session manager can touch is enumerated here.
func propertyTable() prop.Map {
	emitTrue := prop.EmitTrue
	return prop.Map{
		rootInterface: {
			"Identity":            {Value: identity, Emit: emitTrue},
			"DesktopEntry":        {Value: identity, Emit: emitTrue},
			"CanQuit":             {Value: false, Emit: emitTrue},
			"CanRaise":            {Value: false, Emit: emitTrue},
			"HasTrackList":        {Value: false, Emit: emitTrue},
			"SupportedUriSchemes": {Value: []string{}, Emit: emitTrue},
			"SupportedMimeTypes":  {Value: []string{}, Emit: emitTrue},
		},
		playerInterface: {
			"PlaybackStatus": {Value: StatusUnknown, Emit: emitTrue},
			"Metadata": {
				Value: map[string]dbus.Variant{
					"xesam:url": dbus.MakeVariant(identity + "://"),
				},
				Emit: emitTrue,
			},
			"Rate":          {Value: 1.0, Emit: emitTrue},
			"MinimumRate":   {Value: 1.0, Emit: emitTrue},
			"MaximumRate":   {Value: 1.0, Emit: emitTrue},
			"CanGoNext":     {Value: false, Emit: emitTrue},
			"CanGoPrevious": {Value: false, Emit: emitTrue},
			"CanPlay":       {Value: true, Emit: emitTrue},
			"CanPause":      {Value: true, Emit: emitTrue},
			"CanSeek":       {Value: false, Emit: emitTrue},
			"CanControl":    {Value: true, Emit: emitTrue},
		},
	}
}
