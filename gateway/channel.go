// released under the MIT license

package gateway

import (
	"strings"

	"github.com/lep/biboumi/gateway/utils"
)

// ChannelStatus tracks the local user's progress through a join.
type ChannelStatus int

const (
	ChannelJoining ChannelStatus = iota
	ChannelNamesPending
	ChannelTopicPending
	ChannelJoined
	ChannelParting
)

// ChannelUser is one participant: a nickname, the channel-mode letters
// granted to it, and a stable token used for presence correlation.
type ChannelUser struct {
	Nick  string
	Modes map[byte]bool
	ID    string
}

func newChannelUser(nick string) *ChannelUser {
	return &ChannelUser{
		Nick:  nick,
		Modes: make(map[byte]bool),
		ID:    utils.GenerateUUIDv4().String(),
	}
}

// HighestMode returns the most privileged of the user's modes according
// to the server's advertised order, or 0 if the user has none.
func (user *ChannelUser) HighestMode(caps *Capabilities) byte {
	for i := 0; i < len(caps.ModeOrder); i++ {
		if user.Modes[caps.ModeOrder[i]] {
			return caps.ModeOrder[i]
		}
	}
	return 0
}

// Channel is the client's book-keeping for one joined (or joining)
// channel. The owning client outlives all its channels; a channel never
// holds a reference back to it.
type Channel struct {
	Name   string
	Status ChannelStatus
	Topic  string

	// lowercased nick -> user
	users map[string]*ChannelUser
	// modes set on the channel itself
	Modes map[byte]bool

	SelfNick string
	// dummy channels carry server-level traffic and never join
	Dummy bool

	selfPresenceSent bool
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:   name,
		Status: ChannelJoining,
		users:  make(map[string]*ChannelUser),
		Modes:  make(map[byte]bool),
	}
}

func newDummyChannel() *Channel {
	channel := newChannel("")
	channel.Dummy = true
	return channel
}

// ircLower folds a name with plain ASCII lowercase; server-specific
// casemapping is deliberately not implemented.
func ircLower(s string) string {
	return strings.ToLower(s)
}

func (channel *Channel) Joined() bool {
	return channel.Status == ChannelJoined
}

func (channel *Channel) AddUser(nick string) *ChannelUser {
	user := newChannelUser(nick)
	channel.users[ircLower(nick)] = user
	return user
}

func (channel *Channel) FindUser(nick string) *ChannelUser {
	return channel.users[ircLower(nick)]
}

func (channel *Channel) RemoveUser(nick string) {
	delete(channel.users, ircLower(nick))
}

// RenameUser moves a user to a new nickname, preserving modes and the
// presence-correlation token.
func (channel *Channel) RenameUser(oldNick, newNick string) *ChannelUser {
	user := channel.users[ircLower(oldNick)]
	if user == nil {
		return nil
	}
	delete(channel.users, ircLower(oldNick))
	user.Nick = newNick
	channel.users[ircLower(newNick)] = user
	return user
}

func (channel *Channel) UserCount() int { return len(channel.users) }

// Users returns the participant map; callers must not mutate it.
func (channel *Channel) Users() map[string]*ChannelUser { return channel.users }

// markSelfPresenceSent flips the once-per-join latch; it returns false
// if self-presence was already emitted for this join.
func (channel *Channel) markSelfPresenceSent() bool {
	if channel.selfPresenceSent {
		return false
	}
	channel.selfPresenceSent = true
	return true
}

// resetJoin returns the channel to its pre-join state after a part,
// kick or disconnect, so a later join runs the full cycle again.
func (channel *Channel) resetJoin() {
	channel.Status = ChannelParting
	channel.selfPresenceSent = false
	channel.users = make(map[string]*ChannelUser)
	channel.Modes = make(map[byte]bool)
	channel.Topic = ""
}
