/*
Package randx provides functions for generating cryptographically secure random numbers and unique identifiers.

It generates the Base62 user IDs handed out on join, UUID session and message IDs,
and fallback nicknames for users who leave the nickname blank.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// UserIDPrefix is the required prefix for user IDs, generated or caller-supplied.
	UserIDPrefix = "u_"

	// UserIDRawLength is the fixed length of the Base62 part of a user ID.
	UserIDRawLength = 10
)

// base62 returns n random characters from Base62Chars using crypto/rand.
func base62(n int) (string, error) {
	result := make([]byte, n)

	for i := range n {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// UserID generates a new user ID of the form "u_" followed by UserIDRawLength Base62 characters.
func UserID() (string, error) {
	raw, err := base62(UserIDRawLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate user id: %w", err)
	}
	return UserIDPrefix + raw, nil
}

// IsValidUserID checks that id has the UserIDPrefix followed by exactly UserIDRawLength Base62 characters.
func IsValidUserID(id string) bool {
	rawID, ok := strings.CutPrefix(id, UserIDPrefix)
	if !ok || len(rawID) != UserIDRawLength {
		return false
	}

	for _, char := range rawID {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// SessionID returns a fresh UUID v4 string for a matched pair.
// Unlike MessageID it surfaces entropy failures so pairing can roll back.
func SessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return id.String(), nil
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}

// UserNickname generates a random nickname with a "Guest_" prefix and 6 random Base62 characters.
func UserNickname() (string, error) {
	raw, err := base62(6)
	if err != nil {
		return "", fmt.Errorf("failed to generate nickname: %w", err)
	}
	return "Guest_" + raw, nil
}
