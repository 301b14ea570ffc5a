package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the claims carried by a session identity token.
// The token is the opaque identity handed to an anonymous user on join;
// it carries nothing beyond the user ID, the join it was minted for and the nickname.
type Payload struct {
	// StandardClaims embeds Exp, Iat and Iss, which drive token validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the presence registry user ID the token was issued for.
	ID string `json:"id"`

	// JoinID ties the token to one join of that ID.
	JoinID string `json:"jid"`

	// Nickname is the display name chosen at join time.
	Nickname string `json:"nickname"`
}
