package pow

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibechat/internal/pkg/errs"
)

func solve(t *testing.T, nonce string, difficulty int) string {
	t.Helper()
	for i := 0; i < 1_000_000; i++ {
		counter := strconv.Itoa(i)
		if Meets(nonce, counter, difficulty) {
			return counter
		}
	}
	t.Fatalf("no solution found for %s", nonce)
	return ""
}

func TestVerifyIssuesSingleUseToken(t *testing.T) {
	g := NewGate(2)
	defer g.Stop()

	ch := g.NewChallenge()
	assert.Equal(t, 2, ch.Difficulty)

	token, customErr := g.Verify(ch.Nonce, solve(t, ch.Nonce, 2))
	require.Nil(t, customErr)
	require.NotEmpty(t, token)

	// the nonce is spent
	_, customErr = g.Verify(ch.Nonce, solve(t, ch.Nonce, 2))
	require.NotNil(t, customErr)
	assert.Equal(t, errs.ErrPowInvalid, customErr.Code)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(TokenHeaderKey, token)
	assert.True(t, g.Consume(r))
	assert.False(t, g.Consume(r))
}

func TestVerifyRejectsWrongAnswerAndUnknownNonce(t *testing.T) {
	g := NewGate(3)
	defer g.Stop()

	ch := g.NewChallenge()

	wrong := ""
	for i := 0; ; i++ {
		if c := strconv.Itoa(i); !Meets(ch.Nonce, c, 3) {
			wrong = c
			break
		}
	}

	_, customErr := g.Verify(ch.Nonce, wrong)
	require.NotNil(t, customErr)

	_, customErr = g.Verify("unknown", "0")
	require.NotNil(t, customErr)
	assert.Equal(t, errs.ErrPowInvalid, customErr.Code)
}

func TestExpiredEntries(t *testing.T) {
	g := NewGate(1)
	defer g.Stop()

	now := time.Now()
	g.now = func() time.Time { return now }

	ch := g.NewChallenge()
	counter := solve(t, ch.Nonce, 1)

	now = now.Add(NonceExpiryDuration + time.Second)
	_, customErr := g.Verify(ch.Nonce, counter)
	require.NotNil(t, customErr)

	g.sweep(now)
	g.mu.Lock()
	assert.Empty(t, g.nonces)
	g.mu.Unlock()
}

func TestMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("disabled gate passes through", func(t *testing.T) {
		g := NewGate(0)
		defer g.Stop()

		rec := httptest.NewRecorder()
		g.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("enabled gate requires a token", func(t *testing.T) {
		g := NewGate(1)
		defer g.Stop()

		rec := httptest.NewRecorder()
		g.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		ch := g.NewChallenge()
		token, customErr := g.Verify(ch.Nonce, solve(t, ch.Nonce, 1))
		require.Nil(t, customErr)

		rec = httptest.NewRecorder()
		g.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/?pow_token="+token, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
