/*
Package user contains the core data structures describing an online participant.

It defines the User record owned by the presence registry and the matchmaking
State a user is in. Values of User are snapshots; the registry hands out copies.
*/
package user

import "time"

// State is the matchmaking state of an online user. A user is in exactly one state at a time.
type State string

const (
	// Available users are online but not looking for a partner.
	Available State = "available"

	// Searching users are waiting for the matchmaker to pair them.
	Searching State = "searching"

	// Paired users belong to exactly one active session.
	Paired State = "paired"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case Available, Searching, Paired:
		return true
	}
	return false
}

// User represents an anonymous participant as seen by clients and the matchmaker.
type User struct {
	// ID is the unique identifier handed out on join. It is stable for one connection.
	ID string `json:"id"`

	// JoinID is random per join. Identity tokens carry it, so a token minted for an earlier
	// holder of the same ID does not authorize the current one.
	JoinID string `json:"-"`

	// Nickname is the display name chosen on the welcome screen.
	Nickname string `json:"nickname"`

	// State is the current matchmaking state.
	State State `json:"state"`

	// JoinedAt is when the user came online.
	JoinedAt time.Time `json:"joinedAt"`

	// LastActive is refreshed by heartbeats and any API call; stale users are swept.
	LastActive time.Time `json:"-"`

	// SearchingSince is when the user last entered Searching. Zero otherwise.
	SearchingSince time.Time `json:"-"`

	// SearchTicket orders searchers first-come first-served. The registry assigns
	// a fresh, strictly increasing ticket every time the user enters Searching.
	SearchTicket uint64 `json:"-"`

	// LastPartner is the partner the user asked to be rematched away from. The matchmaker
	// avoids pairing them again while anyone else is searching. Cleared on the next pairing.
	LastPartner string `json:"-"`
}

// Public returns the subset of the user that is safe to show to a partner.
func (u User) Public() User {
	return User{ID: u.ID, Nickname: u.Nickname}
}
