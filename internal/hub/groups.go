package hub

// GroupAll holds every connection with a resolved user. Presence and status
// changes go here.
const GroupAll = "all"

// ServerGroup is the broadcast group of a server.
func ServerGroup(serverID string) string { return "server:" + serverID }

// ChannelGroup is the broadcast group of a text channel.
func ChannelGroup(channelID string) string { return "channel:" + channelID }

// VoiceGroup is the broadcast group of the connections joined to a voice
// channel.
func VoiceGroup(channelID string) string { return "voice:" + channelID }

// voiceScopes is the channel-wide plus server-wide audience of a voice
// event. When the channel's server is unknown the event goes to everyone so
// no sidebar is left stale.
func (h *Hub) voiceScopes(channelID, serverID string) []string {
	if serverID == "" {
		serverID, _ = h.voice.ServerOf(channelID)
	}
	if serverID == "" {
		return []string{VoiceGroup(channelID), GroupAll}
	}
	return []string{VoiceGroup(channelID), ServerGroup(serverID)}
}
