// Package alert maps tracker transitions to notification templates.
package alert

import (
	"fmt"
	"time"

	"mcwatch/internal/notifier"
	"mcwatch/internal/probe"
	"mcwatch/internal/roster"
)

// SenderName is the display name used by sinks that support one.
const SenderName = "Minecraft Server Alerts"

const statusTitle = "Server status changed"

// Game names the monitored game. Name starts a sentence; Inline is used
// mid-sentence.
type Game struct {
	Name   string
	Inline string
}

var (
	Minecraft = Game{Name: "Minecraft", Inline: "minecraft"}
	Quake3    = Game{Name: "Quake III", Inline: "Quake III"}
)

// GameFor returns the Game for a server kind as accepted by probe.New.
// Unknown kinds get Minecraft.
func GameFor(kind string) Game {
	if k, _ := probe.CanonicalKind(kind); k == probe.KindQuake3 {
		return Quake3
	}
	return Minecraft
}

// Render builds the alert for ev. address is the monitored server as
// configured; at is the detection time.
func Render(ev roster.Event, game Game, address string, at time.Time) notifier.Alert {
	a := notifier.Alert{
		Footer:    "Server address: " + address,
		Timestamp: at.UTC(),
	}
	switch ev.Kind {
	case roster.PlayerJoined:
		a.Title = "Player Joined"
		a.Description = fmt.Sprintf("**%s** joined the %s server", ev.Player, game.Inline)
		a.Color = notifier.Positive
		a.Fields = []notifier.Field{{Name: "Player", Value: ev.Player, Inline: true}}
	case roster.PlayerLeft:
		a.Title = "Player Left"
		a.Description = fmt.Sprintf("**%s** left the %s server", ev.Player, game.Inline)
		a.Color = notifier.Negative
		a.Fields = []notifier.Field{{Name: "Player", Value: ev.Player, Inline: true}}
	case roster.ServerUp:
		a.Title = statusTitle
		a.Description = game.Name + " server is now online"
		a.Color = notifier.Positive
	case roster.ServerDown:
		a.Title = statusTitle
		a.Description = game.Name + " server is now offline"
		a.Color = notifier.Negative
	default:
		a.Title = statusTitle
		a.Description = ev.String()
	}
	return a
}
