package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"credential-service/internal/data/entity"
	"credential-service/internal/data/repository"
	"credential-service/internal/dto/request"
	"credential-service/pkg/mailer"
	"credential-service/pkg/token"
	"credential-service/pkg/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() *utils.Config {
	return &utils.Config{
		JWT:      utils.JWTConfig{Secret: "test-secret", AccessTTLSeconds: 900, RefreshTTLSeconds: 604800},
		OTP:      utils.OTPConfig{TTLSeconds: 60, Length: 6},
		Password: utils.PasswordConfig{BcryptCost: bcrypt.MinCost},
	}
}

type authEnv struct {
	svc    AuthService
	store  *fakeUserStore
	mr     *miniredis.Miniredis
	mail   *fakeMailer
	issuer *token.JWTIssuer
	logs   *observer.ObservedLogs
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	issuer, err := token.NewJWTIssuer("test-secret")
	require.NoError(t, err)

	store := newFakeUserStore()
	repo := &repository.Repository{
		User:         store.repo(),
		Verification: repository.NewVerificationRepository(rdb, time.Second, log),
	}
	mail := &fakeMailer{}

	return &authEnv{
		svc:    NewAuthService(repo, mail, issuer, testConfig(), log),
		store:  store,
		mr:     mr,
		mail:   mail,
		issuer: issuer,
		logs:   logs,
	}
}

func register(t *testing.T, env *authEnv, email, password string) {
	t.Helper()
	_, err := env.svc.Register(context.Background(), &request.RegisterRequest{Email: email, Name: "A", Password: password})
	require.NoError(t, err)
}

func registerAndVerify(t *testing.T, env *authEnv, email, password string) {
	t.Helper()
	register(t, env, email, password)
	code, err := env.mail.lastCode()
	require.NoError(t, err)
	require.NoError(t, env.svc.VerifyEmail(context.Background(), &request.VerifyEmailRequest{Email: email, Code: code}))
}

func TestRegister(t *testing.T) {
	env := newAuthEnv(t)

	resp, err := env.svc.Register(context.Background(), &request.RegisterRequest{
		Email:    "a@b.com",
		Name:     "A",
		Password: "secret1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "a@b.com", resp.Email)
	assert.Equal(t, entity.RoleCustomer, resp.Role)
	assert.False(t, resp.IsVerified)
	assert.NotZero(t, resp.ID)

	code, err := env.mr.Get("email-verify:a@b.com")
	require.NoError(t, err)
	assert.Regexp(t, `^\d{6}$`, code)
	assert.Equal(t, 60*time.Second, env.mr.TTL("email-verify:a@b.com"))

	require.Equal(t, 1, env.mail.count())
	assert.Equal(t, "a@b.com", env.mail.sent[0].to)
	assert.Equal(t, mailer.VerifyEmailSubject, env.mail.sent[0].subject)
	assert.Contains(t, env.mail.sent[0].body, code)

	stored := env.store.get("a@b.com")
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")))
}

func TestRegister_NormalizesEmail(t *testing.T) {
	env := newAuthEnv(t)

	resp, err := env.svc.Register(context.Background(), &request.RegisterRequest{Email: "  A@B.Com ", Name: "A", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", resp.Email)
	assert.True(t, env.mr.Exists("email-verify:a@b.com"))
}

func TestRegister_Duplicate(t *testing.T) {
	env := newAuthEnv(t)
	register(t, env, "a@b.com", "secret1")
	first, err := env.mr.Get("email-verify:a@b.com")
	require.NoError(t, err)

	_, err = env.svc.Register(context.Background(), &request.RegisterRequest{Email: "a@b.com", Name: "B", Password: "secret2"})
	require.ErrorIs(t, err, ErrConflict)

	assert.Equal(t, 1, env.store.count())
	assert.Equal(t, 1, env.mail.count())
	second, err := env.mr.Get("email-verify:a@b.com")
	require.NoError(t, err)
	assert.Equal(t, first, second, "the existing code must be left alone")
}

func TestRegister_StoreRejectsDuplicate(t *testing.T) {
	cache := newFakeVerificationRepo()
	store := newFakeUserStore()
	mail := &fakeMailer{}
	issuer, err := token.NewJWTIssuer("test-secret")
	require.NoError(t, err)
	svc := NewAuthService(&repository.Repository{User: store.repo(), Verification: cache}, mail, issuer, testConfig(), zap.NewNop())

	// a competing registration holds the email but is invisible to the lookup
	require.NoError(t, store.repo().Create(context.Background(), &entity.User{Email: "a@b.com", Name: "A", Role: entity.RoleCustomer}))
	store.staleReads = true

	_, err = svc.Register(context.Background(), &request.RegisterRequest{Email: "a@b.com", Name: "B", Password: "secret2"})
	require.ErrorIs(t, err, ErrConflict)

	assert.Equal(t, 1, store.count())
	assert.Equal(t, 0, cache.setCount())
	assert.False(t, cache.has(entity.PurposeEmailVerify, "a@b.com"))
	assert.Equal(t, 0, mail.count())
}

func TestRegister_PanicDiscardsCode(t *testing.T) {
	env := newAuthEnv(t)
	env.mail.panicOn = "a@b.com"

	assert.Panics(t, func() {
		_, _ = env.svc.Register(context.Background(), &request.RegisterRequest{Email: "a@b.com", Name: "A", Password: "secret1"})
	})

	assert.False(t, env.mr.Exists("email-verify:a@b.com"))
	assert.Equal(t, 0, env.store.count())
}

func TestRegister_DeliveryFailureRollsBack(t *testing.T) {
	env := newAuthEnv(t)
	env.mail.fail(errors.New("relay down"))

	_, err := env.svc.Register(context.Background(), &request.RegisterRequest{Email: "a@b.com", Name: "A", Password: "secret1"})
	require.ErrorIs(t, err, ErrDeliveryFailure)

	assert.False(t, env.mr.Exists("email-verify:a@b.com"))
	assert.Nil(t, env.store.get("a@b.com"))
	assert.Equal(t, 0, env.store.count())
}

func TestRegister_CacheFailureRollsBack(t *testing.T) {
	cache := newFakeVerificationRepo()
	cache.setErr = fmt.Errorf("%w: set email-verify:a@b.com: connection refused", repository.ErrCacheUnavailable)
	store := newFakeUserStore()
	mail := &fakeMailer{}
	issuer, err := token.NewJWTIssuer("test-secret")
	require.NoError(t, err)
	svc := NewAuthService(&repository.Repository{User: store.repo(), Verification: cache}, mail, issuer, testConfig(), zap.NewNop())

	_, err = svc.Register(context.Background(), &request.RegisterRequest{Email: "a@b.com", Name: "A", Password: "secret1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrCacheUnavailable)

	assert.Equal(t, 0, store.count())
	assert.Equal(t, 0, mail.count())
}

func TestRegister_CommitFailureDiscardsCode(t *testing.T) {
	env := newAuthEnv(t)
	env.store.commitErr = errors.New("connection reset")

	_, err := env.svc.Register(context.Background(), &request.RegisterRequest{Email: "a@b.com", Name: "A", Password: "secret1"})
	require.Error(t, err)

	assert.False(t, env.mr.Exists("email-verify:a@b.com"))
	assert.Equal(t, 0, env.store.count())
}

func TestRegister_CompensationFailureKeepsOriginalError(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cache := newFakeVerificationRepo()
	cache.deleteErr = errors.New("cache gone")
	store := newFakeUserStore()
	mail := &fakeMailer{err: errors.New("relay down")}
	issuer, err := token.NewJWTIssuer("test-secret")
	require.NoError(t, err)

	svc := NewAuthService(&repository.Repository{User: store.repo(), Verification: cache}, mail, issuer, testConfig(), zap.New(core))

	_, err = svc.Register(context.Background(), &request.RegisterRequest{Email: "a@b.com", Name: "A", Password: "secret1"})
	require.ErrorIs(t, err, ErrDeliveryFailure)
	assert.NotContains(t, err.Error(), "cache gone")
	assert.Equal(t, 0, store.count())

	warnings := logs.FilterMessage("Failed to discard verification code").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
}

func TestRegister_Concurrent(t *testing.T) {
	defer goleak.VerifyNone(t)

	cache := newFakeVerificationRepo()
	store := newFakeUserStore()
	mail := &fakeMailer{}
	issuer, err := token.NewJWTIssuer("test-secret")
	require.NoError(t, err)
	svc := NewAuthService(&repository.Repository{User: store.repo(), Verification: cache}, mail, issuer, testConfig(), zap.NewNop())

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(context.Background(), &request.RegisterRequest{Email: "a@b.com", Name: "A", Password: "secret1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 1, mail.count())
	assert.Equal(t, 1, cache.setCount())
	assert.True(t, cache.has(entity.PurposeEmailVerify, "a@b.com"))
}

func TestVerifyEmail(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	register(t, env, "a@b.com", "secret1")

	code, err := env.mr.Get("email-verify:a@b.com")
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	// wrong code leaves the entry usable
	err = env.svc.VerifyEmail(ctx, &request.VerifyEmailRequest{Email: "a@b.com", Code: wrong})
	require.ErrorIs(t, err, ErrCodeMismatch)
	assert.True(t, env.mr.Exists("email-verify:a@b.com"))
	assert.False(t, env.store.get("a@b.com").IsVerified)

	require.NoError(t, env.svc.VerifyEmail(ctx, &request.VerifyEmailRequest{Email: "a@b.com", Code: code}))
	assert.True(t, env.store.get("a@b.com").IsVerified)
	assert.False(t, env.mr.Exists("email-verify:a@b.com"))

	// consumed
	err = env.svc.VerifyEmail(ctx, &request.VerifyEmailRequest{Email: "a@b.com", Code: code})
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyEmail_Expired(t *testing.T) {
	env := newAuthEnv(t)
	register(t, env, "a@b.com", "secret1")
	code, err := env.mail.lastCode()
	require.NoError(t, err)

	env.mr.FastForward(61 * time.Second)

	err = env.svc.VerifyEmail(context.Background(), &request.VerifyEmailRequest{Email: "a@b.com", Code: code})
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.False(t, env.store.get("a@b.com").IsVerified)
}

func TestVerifyEmail_AccountGone(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	require.NoError(t, env.mr.Set("email-verify:ghost@b.com", "123456"))

	err := env.svc.VerifyEmail(ctx, &request.VerifyEmailRequest{Email: "ghost@b.com", Code: "123456"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, env.mr.Exists("email-verify:ghost@b.com"))
}

func TestVerifyEmail_AccountRemovedBeforeWrite(t *testing.T) {
	env := newAuthEnv(t)
	register(t, env, "a@b.com", "secret1")
	code, err := env.mail.lastCode()
	require.NoError(t, err)

	env.store.beforeWrite = func() { env.store.remove("a@b.com") }

	err = env.svc.VerifyEmail(context.Background(), &request.VerifyEmailRequest{Email: "a@b.com", Code: code})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, env.mr.Exists("email-verify:a@b.com"))
}

func TestVerifyEmail_KeepsProfileWrittenMeanwhile(t *testing.T) {
	env := newAuthEnv(t)
	register(t, env, "a@b.com", "secret1")
	code, err := env.mail.lastCode()
	require.NoError(t, err)

	env.store.beforeWrite = func() {
		u := env.store.get("a@b.com")
		u.Name = "Renamed"
		require.NoError(t, env.store.repo().Update(context.Background(), u))
	}

	require.NoError(t, env.svc.VerifyEmail(context.Background(), &request.VerifyEmailRequest{Email: "a@b.com", Code: code}))
	stored := env.store.get("a@b.com")
	assert.True(t, stored.IsVerified)
	assert.Equal(t, "Renamed", stored.Name)
}

func TestResendVerificationCode(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	register(t, env, "a@b.com", "secret1")
	first, err := env.mail.lastCode()
	require.NoError(t, err)

	require.NoError(t, env.svc.ResendVerificationCode(ctx, "a@b.com"))
	second, err := env.mail.lastCode()
	require.NoError(t, err)
	assert.Equal(t, 2, env.mail.count())

	stored, err := env.mr.Get("email-verify:a@b.com")
	require.NoError(t, err)
	assert.Equal(t, second, stored)

	// only the latest code verifies
	if first != second {
		err = env.svc.VerifyEmail(ctx, &request.VerifyEmailRequest{Email: "a@b.com", Code: first})
		require.ErrorIs(t, err, ErrCodeMismatch)
	}
	require.NoError(t, env.svc.VerifyEmail(ctx, &request.VerifyEmailRequest{Email: "a@b.com", Code: second}))
}

func TestResendVerificationCode_ResetsTTL(t *testing.T) {
	env := newAuthEnv(t)
	register(t, env, "a@b.com", "secret1")

	env.mr.FastForward(45 * time.Second)
	require.NoError(t, env.svc.ResendVerificationCode(context.Background(), "a@b.com"))
	assert.Equal(t, 60*time.Second, env.mr.TTL("email-verify:a@b.com"))
}

func TestResendVerificationCode_Failures(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	err := env.svc.ResendVerificationCode(ctx, "nobody@b.com")
	assert.ErrorIs(t, err, ErrNotFound)

	registerAndVerify(t, env, "a@b.com", "secret1")
	err = env.svc.ResendVerificationCode(ctx, "a@b.com")
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestResendVerificationCode_DeliveryFailure(t *testing.T) {
	env := newAuthEnv(t)
	register(t, env, "a@b.com", "secret1")
	before := env.store.get("a@b.com")

	env.mail.fail(errors.New("relay down"))
	err := env.svc.ResendVerificationCode(context.Background(), "a@b.com")
	require.ErrorIs(t, err, ErrDeliveryFailure)

	assert.False(t, env.mr.Exists("email-verify:a@b.com"))
	assert.Equal(t, before, env.store.get("a@b.com"), "the account row is never touched")
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	registerAndVerify(t, env, "a@b.com", "secret1")

	require.NoError(t, env.svc.ForgotPassword(ctx, "a@b.com"))
	assert.Equal(t, 60*time.Second, env.mr.TTL("password-reset:a@b.com"))
	assert.Equal(t, mailer.ResetPasswordSubject, env.mail.sent[len(env.mail.sent)-1].subject)
	code, err := env.mail.lastCode()
	require.NoError(t, err)

	require.NoError(t, env.svc.ResetPassword(ctx, &request.ResetPasswordRequest{Email: "a@b.com", Code: code, NewPassword: "secret2"}))
	assert.False(t, env.mr.Exists("password-reset:a@b.com"))

	_, err = env.svc.Login(ctx, &request.LoginRequest{Email: "a@b.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = env.svc.Login(ctx, &request.LoginRequest{Email: "a@b.com", Password: "secret2"})
	assert.NoError(t, err)
}

func TestResetPassword_BadCodeKeepsPassword(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	registerAndVerify(t, env, "a@b.com", "secret1")

	// no code issued yet
	err := env.svc.ResetPassword(ctx, &request.ResetPasswordRequest{Email: "a@b.com", Code: "123456", NewPassword: "secret2"})
	require.ErrorIs(t, err, ErrCodeExpired)

	require.NoError(t, env.svc.ForgotPassword(ctx, "a@b.com"))
	code, err := env.mail.lastCode()
	require.NoError(t, err)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	err = env.svc.ResetPassword(ctx, &request.ResetPasswordRequest{Email: "a@b.com", Code: wrong, NewPassword: "secret2"})
	require.ErrorIs(t, err, ErrCodeMismatch)
	assert.True(t, env.mr.Exists("password-reset:a@b.com"))

	env.mr.FastForward(61 * time.Second)
	err = env.svc.ResetPassword(ctx, &request.ResetPasswordRequest{Email: "a@b.com", Code: code, NewPassword: "secret2"})
	require.ErrorIs(t, err, ErrCodeExpired)

	_, err = env.svc.Login(ctx, &request.LoginRequest{Email: "a@b.com", Password: "secret1"})
	assert.NoError(t, err, "old password must still work")
}

func TestResetPassword_AccountRemovedBeforeWrite(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	registerAndVerify(t, env, "a@b.com", "secret1")
	require.NoError(t, env.svc.ForgotPassword(ctx, "a@b.com"))
	code, err := env.mail.lastCode()
	require.NoError(t, err)

	env.store.beforeWrite = func() { env.store.remove("a@b.com") }

	err = env.svc.ResetPassword(ctx, &request.ResetPasswordRequest{Email: "a@b.com", Code: code, NewPassword: "secret2"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, env.mr.Exists("password-reset:a@b.com"))
}

func TestForgotPassword_Failures(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	err := env.svc.ForgotPassword(ctx, "nobody@b.com")
	assert.ErrorIs(t, err, ErrNotFound)

	registerAndVerify(t, env, "a@b.com", "secret1")
	env.mail.fail(errors.New("relay down"))
	err = env.svc.ForgotPassword(ctx, "a@b.com")
	assert.ErrorIs(t, err, ErrDeliveryFailure)
	assert.False(t, env.mr.Exists("password-reset:a@b.com"))
}

func TestLogin(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	registerAndVerify(t, env, "a@b.com", "secret1")

	resp, err := env.svc.Login(ctx, &request.LoginRequest{Email: "A@b.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", resp.User.Email)
	assert.True(t, resp.User.IsVerified)

	access, err := env.issuer.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, access.UserID)
	assert.Equal(t, "a@b.com", access.Email)
	assert.Equal(t, "CUSTOMER", access.Role)
	assert.Equal(t, 900*time.Second, access.ExpiresAt.Sub(access.IssuedAt.Time))

	refresh, err := env.issuer.Verify(resp.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 604800*time.Second, refresh.ExpiresAt.Sub(refresh.IssuedAt.Time))
}

func TestLogin_UniformRejection(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	register(t, env, "unverified@b.com", "secret1")
	registerAndVerify(t, env, "a@b.com", "secret1")

	tests := []struct {
		name string
		req  request.LoginRequest
	}{
		{"unknown email", request.LoginRequest{Email: "nobody@b.com", Password: "secret1"}},
		{"unverified", request.LoginRequest{Email: "unverified@b.com", Password: "secret1"}},
		{"wrong password", request.LoginRequest{Email: "a@b.com", Password: "nope"}},
	}

	var messages []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.svc.Login(ctx, &tt.req)
			require.ErrorIs(t, err, ErrUnauthorized)
			assert.Nil(t, resp)
			messages = append(messages, err.Error())
		})
	}

	for _, m := range messages {
		assert.Equal(t, messages[0], m)
	}
}

func TestLogin_StoreError(t *testing.T) {
	env := newAuthEnv(t)
	env.store.findErr = errors.New("connection refused")

	_, err := env.svc.Login(context.Background(), &request.LoginRequest{Email: "a@b.com", Password: "secret1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestCodesNeverLoggedAtInfo(t *testing.T) {
	env := newAuthEnv(t)
	register(t, env, "a@b.com", "secret1")
	code, err := env.mail.lastCode()
	require.NoError(t, err)

	for _, entry := range env.logs.All() {
		assert.NotContains(t, entry.Message, code)
		for _, f := range entry.Context {
			assert.NotEqual(t, code, f.String)
		}
	}
}
