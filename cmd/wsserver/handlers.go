package main

import (
	"context"

	"github.com/whisper/realtime/internal/hub"
	"github.com/whisper/realtime/internal/protocol"
	"github.com/whisper/realtime/internal/ws"
)

// registerHandlers routes every client message type to the hub. Ping is
// answered by the dispatcher itself.
func registerHandlers(d *ws.MessageDispatcher, h *hub.Hub) {
	bg := context.Background()

	// --- Servers and text channels ---
	d.Register(protocol.TypeJoinServer, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ServerRefMsg); ok {
			h.JoinServer(bg, c.ID, m.ServerID)
		}
	})
	d.Register(protocol.TypeLeaveServer, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ServerRefMsg); ok {
			h.LeaveServer(bg, c.ID, m.ServerID)
		}
	})
	d.Register(protocol.TypeJoinChannel, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChannelRefMsg); ok {
			h.JoinChannel(bg, c.ID, m.ChannelID)
		}
	})
	d.Register(protocol.TypeLeaveChannel, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChannelRefMsg); ok {
			h.LeaveChannel(bg, c.ID, m.ChannelID)
		}
	})

	// --- Typing ---
	d.Register(protocol.TypeTypingStart, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChannelRefMsg); ok {
			h.SendTypingIndicator(bg, c.ID, m.ChannelID)
		}
	})
	d.Register(protocol.TypeTypingStop, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChannelRefMsg); ok {
			h.StopTypingIndicator(bg, c.ID, m.ChannelID)
		}
	})
	d.Register(protocol.TypeDMTypingStart, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.DMTypingMsg); ok {
			h.SendDmTypingIndicator(bg, c.ID, m.UserID)
		}
	})
	d.Register(protocol.TypeDMTypingStop, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.DMTypingMsg); ok {
			h.StopDmTypingIndicator(bg, c.ID, m.UserID)
		}
	})

	// --- Voice ---
	d.Register(protocol.TypeVoiceJoin, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.VoiceChannelMsg); ok {
			h.JoinVoiceChannel(bg, c.ID, m.ServerID, m.ChannelID)
		}
	})
	d.Register(protocol.TypeVoiceLeave, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.VoiceChannelMsg); ok {
			h.LeaveVoiceChannel(bg, c.ID, m.ServerID, m.ChannelID)
		}
	})
	d.Register(protocol.TypeVoiceState, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.VoiceStateMsg); ok {
			h.UpdateVoiceState(bg, c.ID, m.ChannelID, m.Muted, m.Deafened)
		}
	})
	d.Register(protocol.TypeVoiceMute, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.VoiceMuteMsg); ok {
			h.SetMuteState(bg, c.ID, m.ChannelID, m.Muted)
		}
	})
	d.Register(protocol.TypeVoiceDeafen, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.VoiceDeafenMsg); ok {
			h.SetDeafenState(bg, c.ID, m.ChannelID, m.Deafened)
		}
	})
	d.Register(protocol.TypeSpeakingStart, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChannelRefMsg); ok {
			h.StartSpeaking(bg, c.ID, m.ChannelID)
		}
	})
	d.Register(protocol.TypeSpeakingStop, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ChannelRefMsg); ok {
			h.StopSpeaking(bg, c.ID, m.ChannelID)
		}
	})
	d.Register(protocol.TypeScreenShareStart, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.VoiceChannelMsg); ok {
			h.StartScreenShare(bg, c.ID, m.ServerID, m.ChannelID)
		}
	})
	d.Register(protocol.TypeScreenShareStop, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.VoiceChannelMsg); ok {
			h.StopScreenShare(bg, c.ID, m.ServerID, m.ChannelID)
		}
	})
	d.Register(protocol.TypeGetVoiceStatus, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ServerRefMsg); ok {
			h.GetServerVoiceStatus(bg, c.ID, m.ServerID)
		}
	})

	// --- WebRTC signaling ---
	d.Register(protocol.TypeSignalOffer, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SignalMsg); ok {
			h.SendOffer(bg, c.ID, m.TargetConnectionID, m.Payload)
		}
	})
	d.Register(protocol.TypeSignalAnswer, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SignalMsg); ok {
			h.SendAnswer(bg, c.ID, m.TargetConnectionID, m.Payload)
		}
	})
	d.Register(protocol.TypeSignalICECandidate, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SignalMsg); ok {
			h.SendIceCandidate(bg, c.ID, m.TargetConnectionID, m.Payload)
		}
	})

	// --- Status ---
	d.Register(protocol.TypeSetStatus, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SetStatusMsg); ok {
			h.SetUserStatus(bg, c.ID, m.Status)
		}
	})
	d.Register(protocol.TypeSetStatusTimed, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SetStatusTimedMsg); ok {
			h.SetUserStatusTimed(bg, c.ID, m.Status, m.DurationMs)
		}
	})
}
