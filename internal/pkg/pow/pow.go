/*
Package pow implements the Proof-of-Work (PoW) gate placed in front of joining, so that
minting anonymous identities costs the client some CPU.

A client fetches a challenge nonce, searches for a counter whose SHA256(nonce+counter)
starts with the required number of hex zeros, and trades the answer for a short-lived,
single-use Proof Token that it presents on the join request.
*/
package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vibechat/internal/pkg/errs"
	"vibechat/internal/pkg/resp"
)

const (
	// TokenHeaderKey is the HTTP header key used by the client to send the Proof Token.
	TokenHeaderKey = "X-PoW-Token"

	// ProofTokenDuration is the validity period for the Proof Token issued after successful PoW validation.
	ProofTokenDuration = 30 * time.Second

	// NonceExpiryDuration is the validity period for the challenge Nonce.
	NonceExpiryDuration = 5 * time.Minute

	cleanupInterval = time.Minute
)

// Challenge is what a client must solve.
type Challenge struct {
	Nonce      string `json:"nonce"`
	Difficulty int    `json:"difficulty"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// Gate manages the lifecycle of PoW challenges and Proof Tokens. It is safe for concurrent use.
type Gate struct {
	// difficulty is the required number of leading zeros for the PoW challenge hash.
	difficulty int

	mu     sync.Mutex
	nonces map[string]time.Time
	tokens map[string]time.Time

	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewGate creates a Gate and starts a background goroutine cleaning up expired entries.
// A difficulty of 0 disables the gate: Middleware lets every request through.
func NewGate(difficulty int) *Gate {
	g := &Gate{
		difficulty: difficulty,
		nonces:     make(map[string]time.Time),
		tokens:     make(map[string]time.Time),
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go g.cleanupLoop()

	return g
}

// Enabled reports whether requests must carry a Proof Token.
func (g *Gate) Enabled() bool {
	return g.difficulty > 0
}

// NewChallenge issues a nonce and remembers it until it expires or is solved.
func (g *Gate) NewChallenge() Challenge {
	nonce := uuid.NewString()
	expiry := g.now().Add(NonceExpiryDuration)

	g.mu.Lock()
	g.nonces[nonce] = expiry
	g.mu.Unlock()

	return Challenge{Nonce: nonce, Difficulty: g.difficulty, ExpiresAt: expiry.UnixMilli()}
}

// Meets reports whether counter solves nonce at the given difficulty.
func Meets(nonce, counter string, difficulty int) bool {
	hash := sha256.Sum256([]byte(nonce + counter))
	return strings.HasPrefix(hex.EncodeToString(hash[:]), strings.Repeat("0", difficulty))
}

// Verify checks an answer and, on success, consumes the nonce and issues a Proof Token.
func (g *Gate) Verify(nonce, counter string) (string, *errs.CustomError) {
	now := g.now()

	g.mu.Lock()
	expiry, ok := g.nonces[nonce]
	g.mu.Unlock()

	if !ok || now.After(expiry) {
		return "", errs.NewError(errs.ErrPowInvalid)
	}

	if !Meets(nonce, counter, g.difficulty) {
		return "", errs.NewError(errs.ErrPowInvalid)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// a concurrent Verify may have consumed it in between
	if _, stillExists := g.nonces[nonce]; !stillExists {
		return "", errs.NewError(errs.ErrPowInvalid)
	}
	delete(g.nonces, nonce)

	token := uuid.NewString()
	g.tokens[token] = now.Add(ProofTokenDuration)
	return token, nil
}

// Consume checks whether the request carries a valid Proof Token and spends it.
// The token is read from the X-PoW-Token header or the pow_token query parameter.
func (g *Gate) Consume(r *http.Request) bool {
	token := r.Header.Get(TokenHeaderKey)
	if token == "" {
		token = r.URL.Query().Get("pow_token")
	}

	if token == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.tokens[token]
	if !ok {
		return false
	}
	delete(g.tokens, token)

	return !g.now().After(expiry)
}

// Middleware rejects requests without a valid Proof Token with ErrPowRequired while the gate is enabled.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Enabled() && !g.Consume(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrPowRequired))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Stop ends the cleanup goroutine.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// cleanupLoop periodically removes expired nonces and tokens.
func (g *Gate) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.sweep(g.now())
		}
	}
}

func (g *Gate) sweep(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for nonce, expiry := range g.nonces {
		if now.After(expiry) {
			delete(g.nonces, nonce)
		}
	}

	for token, expiry := range g.tokens {
		if now.After(expiry) {
			delete(g.tokens, token)
		}
	}
}
