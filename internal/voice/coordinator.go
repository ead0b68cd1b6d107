// Package voice coordinates voice-channel sessions: who is connected to which
// voice channel, their mute and deafen state, who is sharing a screen, and
// the point-to-point relay of WebRTC negotiation payloads between peers.
//
// Rosters are keyed by connection, so a user joined from two sessions is
// listed twice. Presence, by contrast, dedupes by user.
package voice

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/whisper/realtime/internal/shard"
)

// State is a user's mute/deafen state in one voice channel.
type State struct {
	Muted    bool `json:"muted"`
	Deafened bool `json:"deafened"`
}

// Participant is one connection joined to a voice channel.
type Participant struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// Departure describes a connection removed from a channel roster during
// disconnect cleanup. ServerID is empty when the channel was never mapped.
type Departure struct {
	ChannelID    string
	ServerID     string
	UserID       string
	ConnectionID string
	WasSharing   bool
}

// LeaveResult reports what an explicit leave changed.
type LeaveResult struct {
	Removed    bool // the connection was in the roster
	WasSharing bool // the user was sharing a screen in the channel
}

// Snapshot aggregates the voice state of every channel mapped to a server.
// All maps are keyed by channel id.
type Snapshot struct {
	ScreenShares map[string][]string         `json:"screen_shares"`
	VoiceStates  map[string]map[string]State `json:"voice_states"`
	VoiceUsers   map[string][]string         `json:"voice_users"`
}

type channel struct {
	roster  map[string]string // connection id -> user id
	states  map[string]State  // user id -> state
	sharing map[string]struct{}
}

func newChannel() *channel {
	return &channel{
		roster:  make(map[string]string),
		states:  make(map[string]State),
		sharing: make(map[string]struct{}),
	}
}

func (ch *channel) empty() bool {
	return len(ch.roster) == 0 && len(ch.states) == 0 && len(ch.sharing) == 0
}

func (ch *channel) hasUser(user string) bool {
	return lo.Contains(lo.Values(ch.roster), user)
}

func (ch *channel) participants() []Participant {
	conns := lo.Keys(ch.roster)
	sort.Strings(conns)
	out := make([]Participant, 0, len(conns))
	for _, c := range conns {
		out = append(out, Participant{ConnectionID: c, UserID: ch.roster[c]})
	}
	return out
}

type bucket struct {
	mu       sync.Mutex
	channels map[string]*channel
}

// Coordinator owns all voice session state. Channels are spread over lock
// buckets; the channel -> server cache has its own lock and is never held
// together with a bucket lock.
type Coordinator struct {
	buckets [shard.DefaultCount]bucket

	serversMu sync.RWMutex
	servers   map[string]string // channel id -> server id, best effort
}

// NewCoordinator returns an empty Coordinator.
func NewCoordinator() *Coordinator {
	c := &Coordinator{servers: make(map[string]string)}
	for i := range c.buckets {
		c.buckets[i].channels = make(map[string]*channel)
	}
	return c
}

func (c *Coordinator) bucket(channelID string) *bucket {
	return &c.buckets[shard.Index(channelID, shard.DefaultCount)]
}

// withChannel runs fn with the channel's bucket locked. When create is false
// and the channel does not exist fn is not called. Empty channels are
// dropped afterwards.
func (c *Coordinator) withChannel(channelID string, create bool, fn func(ch *channel)) {
	b := c.bucket(channelID)
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[channelID]
	if !ok {
		if !create {
			return
		}
		ch = newChannel()
		b.channels[channelID] = ch
	}
	fn(ch)
	if ch.empty() {
		delete(b.channels, channelID)
	}
}

func (c *Coordinator) mapServer(channelID, serverID string) {
	if serverID == "" {
		return
	}
	c.serversMu.Lock()
	c.servers[channelID] = serverID
	c.serversMu.Unlock()
}

// ServerOf returns the cached server of a channel. The mapping is populated
// opportunistically and may be stale or missing.
func (c *Coordinator) ServerOf(channelID string) (string, bool) {
	c.serversMu.RLock()
	s, ok := c.servers[channelID]
	c.serversMu.RUnlock()
	return s, ok
}

// Join adds conn to the channel roster and returns the full participant list,
// including the joining connection.
func (c *Coordinator) Join(serverID, channelID, conn, user string) []Participant {
	c.mapServer(channelID, serverID)

	var participants []Participant
	c.withChannel(channelID, true, func(ch *channel) {
		ch.roster[conn] = user
		participants = ch.participants()
	})
	return participants
}

// Leave removes conn from the roster and unconditionally clears the user's
// voice state and screen share in that channel.
func (c *Coordinator) Leave(serverID, channelID, conn, user string) LeaveResult {
	c.mapServer(channelID, serverID)

	var res LeaveResult
	c.withChannel(channelID, false, func(ch *channel) {
		if owner, ok := ch.roster[conn]; ok && owner == user {
			delete(ch.roster, conn)
			res.Removed = true
		}
		_, res.WasSharing = ch.sharing[user]
		delete(ch.states, user)
		delete(ch.sharing, user)
	})
	return res
}

// OnConnectionDisconnected removes conn from every roster it appears in and
// clears the owning user's state and screen share in those channels. The
// departures are ordered by channel id.
func (c *Coordinator) OnConnectionDisconnected(conn string) []Departure {
	var out []Departure
	for i := range c.buckets {
		b := &c.buckets[i]
		b.mu.Lock()
		for id, ch := range b.channels {
			user, ok := ch.roster[conn]
			if !ok {
				continue
			}
			delete(ch.roster, conn)
			_, sharing := ch.sharing[user]
			delete(ch.states, user)
			delete(ch.sharing, user)
			if ch.empty() {
				delete(b.channels, id)
			}
			out = append(out, Departure{
				ChannelID:    id,
				UserID:       user,
				ConnectionID: conn,
				WasSharing:   sharing,
			})
		}
		b.mu.Unlock()
	}

	for i := range out {
		out[i].ServerID, _ = c.ServerOf(out[i].ChannelID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// UpdateVoiceState upserts both flags for user in channel. Nothing is stored
// and ok is false unless the user has a connection in the channel roster.
func (c *Coordinator) UpdateVoiceState(channelID, user string, muted, deafened bool) (st State, ok bool) {
	c.withChannel(channelID, false, func(ch *channel) {
		if !ch.hasUser(user) {
			return
		}
		st = State{Muted: muted, Deafened: deafened}
		ch.states[user] = st
		ok = true
	})
	return st, ok
}

// SetMuteState updates only the mute flag, keeping deafen as it was.
func (c *Coordinator) SetMuteState(channelID, user string, muted bool) (State, bool) {
	return c.patchState(channelID, user, func(st *State) { st.Muted = muted })
}

// SetDeafenState updates only the deafen flag, keeping mute as it was.
func (c *Coordinator) SetDeafenState(channelID, user string, deafened bool) (State, bool) {
	return c.patchState(channelID, user, func(st *State) { st.Deafened = deafened })
}

func (c *Coordinator) patchState(channelID, user string, patch func(*State)) (st State, ok bool) {
	c.withChannel(channelID, false, func(ch *channel) {
		if !ch.hasUser(user) {
			return
		}
		st = ch.states[user]
		patch(&st)
		ch.states[user] = st
		ok = true
	})
	return st, ok
}

// VoiceState returns user's state in channel.
func (c *Coordinator) VoiceState(channelID, user string) (State, bool) {
	var (
		st State
		ok bool
	)
	c.withChannel(channelID, false, func(ch *channel) {
		st, ok = ch.states[user]
	})
	return st, ok
}

// StartScreenShare marks user as sharing in channel. It returns true only if
// the user is in the channel roster and was not already sharing.
func (c *Coordinator) StartScreenShare(serverID, channelID, user string) bool {
	c.mapServer(channelID, serverID)

	added := false
	c.withChannel(channelID, false, func(ch *channel) {
		if !ch.hasUser(user) {
			return
		}
		if _, ok := ch.sharing[user]; !ok {
			ch.sharing[user] = struct{}{}
			added = true
		}
	})
	return added
}

// StopScreenShare clears user's screen share in channel. It returns true only
// if the user was sharing.
func (c *Coordinator) StopScreenShare(serverID, channelID, user string) bool {
	c.mapServer(channelID, serverID)

	removed := false
	c.withChannel(channelID, false, func(ch *channel) {
		if _, ok := ch.sharing[user]; ok {
			delete(ch.sharing, user)
			removed = true
		}
	})
	return removed
}

// Participants returns the current roster of channel ordered by connection.
func (c *Coordinator) Participants(channelID string) []Participant {
	var out []Participant
	c.withChannel(channelID, false, func(ch *channel) {
		out = ch.participants()
	})
	return out
}

// ParticipantCount returns the number of joined connections across all
// channels.
func (c *Coordinator) ParticipantCount() int {
	n := 0
	for i := range c.buckets {
		b := &c.buckets[i]
		b.mu.Lock()
		for _, ch := range b.channels {
			n += len(ch.roster)
		}
		b.mu.Unlock()
	}
	return n
}

// GetVoiceSnapshot aggregates rosters (as user ids), voice states and screen
// shares for every channel whose cached server equals serverID.
func (c *Coordinator) GetVoiceSnapshot(serverID string) Snapshot {
	snap := Snapshot{
		ScreenShares: make(map[string][]string),
		VoiceStates:  make(map[string]map[string]State),
		VoiceUsers:   make(map[string][]string),
	}

	c.serversMu.RLock()
	var channels []string
	for ch, srv := range c.servers {
		if srv == serverID {
			channels = append(channels, ch)
		}
	}
	c.serversMu.RUnlock()

	for _, id := range channels {
		c.withChannel(id, false, func(ch *channel) {
			if len(ch.roster) > 0 {
				users := make([]string, 0, len(ch.roster))
				for _, p := range ch.participants() {
					users = append(users, p.UserID)
				}
				snap.VoiceUsers[id] = users
			}
			if len(ch.states) > 0 {
				states := make(map[string]State, len(ch.states))
				for u, st := range ch.states {
					states[u] = st
				}
				snap.VoiceStates[id] = states
			}
			if len(ch.sharing) > 0 {
				sharers := lo.Keys(ch.sharing)
				sort.Strings(sharers)
				snap.ScreenShares[id] = sharers
			}
		})
	}
	return snap
}
