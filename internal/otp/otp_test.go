package otp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcore/internal/apperr"
	identitydomain "authcore/internal/identity/domain"
	identityrepo "authcore/internal/identity/repository"
	"authcore/internal/kv"
	"authcore/internal/notify"
	"authcore/internal/security"
)

type captureDispatcher struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (c *captureDispatcher) Send(ctx context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

type fixture struct {
	store      *kv.MemoryStore
	identities *identityrepo.MemoryRepository
	dispatch   *captureDispatcher
	mgr        *Manager
	clock      time.Time
}

func newFixture(t *testing.T, code string) *fixture {
	t.Helper()
	f := &fixture{
		store:      kv.NewMemoryStore(),
		identities: identityrepo.NewMemoryRepository(),
		dispatch:   &captureDispatcher{},
		clock:      time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(func() time.Time { return f.clock })
	f.mgr = NewManager(f.store, security.NewHasher(4), f.identities, f.dispatch,
		WithTTL(600*time.Second),
		WithCodeGenerator(func() (string, error) { return code, nil }))
	require.NoError(t, f.identities.Create(context.Background(), &identitydomain.Identity{
		ID: "u1", Username: "alice", Email: "alice@x.com", Active: true,
	}))
	return f
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.True(t, ValidCodeFormat(code), "code %q", code)
	}
}

func TestValidCodeFormat(t *testing.T) {
	assert.True(t, ValidCodeFormat("000000"))
	assert.True(t, ValidCodeFormat("482910"))
	assert.False(t, ValidCodeFormat("48291"))
	assert.False(t, ValidCodeFormat("4829100"))
	assert.False(t, ValidCodeFormat("48291a"))
	assert.False(t, ValidCodeFormat(""))
}

func TestSignupCode_VerifiesExactlyOnce(t *testing.T) {
	f := newFixture(t, "482910")
	ctx := context.Background()

	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))
	require.Len(t, f.dispatch.msgs, 1)
	assert.Equal(t, "a@x.com", f.dispatch.msgs[0].To)
	assert.Contains(t, f.dispatch.msgs[0].Text, "482910")

	stored, ok, _ := f.store.Get(ctx, "signup:a@x.com")
	require.True(t, ok)
	assert.NotEqual(t, "482910", stored, "code must be stored hashed")

	require.NoError(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "482910"))

	err := f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "482910")
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestVerify_Mismatch(t *testing.T) {
	f := newFixture(t, "482910")
	ctx := context.Background()
	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))

	assert.ErrorIs(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "000000"), ErrCodeMismatch)
	assert.NoError(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "482910"), "mismatch must not consume the code")
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t, "482910")
	ctx := context.Background()
	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))

	f.clock = f.clock.Add(601 * time.Second)
	assert.ErrorIs(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "482910"), ErrCodeExpired)
}

func TestVerify_InvalidFormat(t *testing.T) {
	f := newFixture(t, "482910")
	err := f.mgr.Verify(context.Background(), PurposeSignup, "a@x.com", "12ab")
	assert.ErrorIs(t, err, ErrInvalidCodeFormat)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestVerify_PurposesAreIsolated(t *testing.T) {
	f := newFixture(t, "111111")
	ctx := context.Background()
	require.NoError(t, f.mgr.Issue(ctx, PurposeTwoFactorLogin, Recipient{Email: "alice@x.com", Username: "alice"}))
	assert.ErrorIs(t, f.mgr.Verify(ctx, PurposePasswordReset, "alice@x.com", "111111"), ErrCodeExpired)
	assert.NoError(t, f.mgr.Verify(ctx, PurposeTwoFactorLogin, "ALICE@x.com", "111111"))
}

func TestIssue_OverwritesPriorCode(t *testing.T) {
	codes := []string{"111111", "222222"}
	var i int32
	f := newFixture(t, "")
	f.mgr.generate = func() (string, error) { return codes[atomic.AddInt32(&i, 1)-1], nil }
	ctx := context.Background()

	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))
	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))

	assert.ErrorIs(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "111111"), ErrCodeMismatch)
	assert.NoError(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "222222"))
}

func TestIssue_Eligibility(t *testing.T) {
	f := newFixture(t, "482910")
	ctx := context.Background()

	err := f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "other@x.com", Username: "Alice"})
	assert.ErrorIs(t, err, identityrepo.ErrIdentityExists)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	err = f.mgr.Issue(ctx, PurposeTwoFactorLogin, Recipient{Email: "ghost@x.com"})
	assert.ErrorIs(t, err, identityrepo.ErrIdentityNotFound)
	err = f.mgr.Issue(ctx, PurposePasswordReset, Recipient{Email: "ghost@x.com"})
	assert.ErrorIs(t, err, identityrepo.ErrIdentityNotFound)

	assert.ErrorIs(t, f.mgr.Issue(ctx, Purpose("bogus"), Recipient{Email: "alice@x.com"}), ErrUnknownPurpose)
	assert.Empty(t, f.dispatch.msgs)
}

func TestIssue_DispatchFailure(t *testing.T) {
	f := newFixture(t, "482910")
	f.dispatch.err = errors.New("relay down")
	ctx := context.Background()

	err := f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"})
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	_, ok, _ := f.store.Get(ctx, "signup:a@x.com")
	assert.False(t, ok, "undelivered code must be discarded")
}

func TestVerify_ConcurrentSingleUse(t *testing.T) {
	f := newFixture(t, "482910")
	ctx := context.Background()
	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "482910") == nil {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok)
}

func TestConsumeVerified(t *testing.T) {
	f := newFixture(t, "482910")
	ctx := context.Background()

	got, err := f.mgr.ConsumeVerified(ctx, PurposeSignup, "a@x.com")
	require.NoError(t, err)
	assert.False(t, got, "no marker before verification")

	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))
	require.NoError(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "482910"))

	got, _ = f.mgr.ConsumeVerified(ctx, PurposeSignup, "A@X.com")
	assert.True(t, got)
	got, _ = f.mgr.ConsumeVerified(ctx, PurposeSignup, "a@x.com")
	assert.False(t, got, "marker is single-use")
}

func TestPasswordReset_NoMarker(t *testing.T) {
	f := newFixture(t, "333333")
	ctx := context.Background()
	require.NoError(t, f.mgr.Issue(ctx, PurposePasswordReset, Recipient{Email: "alice@x.com", Username: "alice"}))
	require.NoError(t, f.mgr.Verify(ctx, PurposePasswordReset, "alice@x.com", "333333"))
	got, _ := f.mgr.ConsumeVerified(ctx, PurposePasswordReset, "alice@x.com")
	assert.False(t, got)
}

func TestVerify_BurnsCodeAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, "482910")
	ctx := context.Background()
	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))

	for i := 1; i < DefaultMaxAttempts; i++ {
		assert.ErrorIs(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "000000"), ErrCodeMismatch, "miss %d", i)
	}
	err := f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "000000")
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))

	_, ok, _ := f.store.Get(ctx, "signup:a@x.com")
	assert.False(t, ok, "code must be burned")
	assert.ErrorIs(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "482910"), ErrCodeExpired)

	// A fresh code starts a fresh budget.
	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))
	assert.ErrorIs(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "000000"), ErrCodeMismatch)
	assert.NoError(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "482910"))
}

func TestVerify_AttemptsArePerPurpose(t *testing.T) {
	f := newFixture(t, "111111")
	f.mgr = NewManager(f.store, security.NewHasher(4), f.identities, f.dispatch,
		WithMaxAttempts(2),
		WithCodeGenerator(func() (string, error) { return "111111", nil }))
	ctx := context.Background()
	require.NoError(t, f.mgr.Issue(ctx, PurposeTwoFactorLogin, Recipient{Email: "alice@x.com", Username: "alice"}))
	require.NoError(t, f.mgr.Issue(ctx, PurposePasswordReset, Recipient{Email: "alice@x.com", Username: "alice"}))

	assert.ErrorIs(t, f.mgr.Verify(ctx, PurposePasswordReset, "alice@x.com", "999999"), ErrCodeMismatch)
	assert.ErrorIs(t, f.mgr.Verify(ctx, PurposePasswordReset, "alice@x.com", "999999"), ErrTooManyAttempts)
	assert.NoError(t, f.mgr.Verify(ctx, PurposeTwoFactorLogin, "alice@x.com", "111111"))
}

func TestTwoFactorLogin_WritesMarker(t *testing.T) {
	f := newFixture(t, "444444")
	ctx := context.Background()
	require.NoError(t, f.mgr.Issue(ctx, PurposeTwoFactorLogin, Recipient{Email: "alice@x.com", Username: "alice"}))
	require.NoError(t, f.mgr.Verify(ctx, PurposeTwoFactorLogin, "alice@x.com", "444444"))

	got, err := f.mgr.ConsumeVerified(ctx, PurposeTwoFactorLogin, "alice@x.com")
	require.NoError(t, err)
	assert.True(t, got)
	got, _ = f.mgr.ConsumeVerified(ctx, PurposeTwoFactorLogin, "alice@x.com")
	assert.False(t, got, "marker is single-use")
}

func TestVerified_DoesNotRedeem(t *testing.T) {
	f := newFixture(t, "482910")
	ctx := context.Background()
	require.NoError(t, f.mgr.Issue(ctx, PurposeSignup, Recipient{Email: "a@x.com", Username: "newbie"}))
	require.NoError(t, f.mgr.Verify(ctx, PurposeSignup, "a@x.com", "482910"))

	ok, err := f.mgr.Verified(ctx, PurposeSignup, "A@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ := f.mgr.ConsumeVerified(ctx, PurposeSignup, "a@x.com")
	assert.True(t, got, "Verified must leave the marker in place")
}
