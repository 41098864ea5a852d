package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"support_flow/internal/entities"
)

const testSecret = "test-secret"

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	store := newFakeUserStore()
	uc := NewAuthUsecase(store, testSecret)

	user, err := uc.Register(ctx, " maria ", "s3cretpass", "")
	require.NoError(t, err)
	require.Equal(t, "maria", user.Username)
	require.Equal(t, entities.RoleAgent, user.Role)
	require.NotEqual(t, "s3cretpass", user.PasswordHash)

	token, err := uc.Login(ctx, "maria", "s3cretpass")
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return []byte(testSecret), nil })
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "maria", claims["username"])
	require.Equal(t, entities.RoleAgent, claims["role"])
	require.EqualValues(t, user.ID, claims["user_id"])

	staff, err := uc.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, user.ID, staff.UserID)
	require.Equal(t, "maria", staff.Username)

	_, err = uc.Login(ctx, "maria", "wrong-password")
	require.Equal(t, ErrorValidation, CodeOf(err))

	_, err = uc.Login(ctx, "nobody", "s3cretpass")
	require.Equal(t, ErrorValidation, CodeOf(err))
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	uc := NewAuthUsecase(newFakeUserStore(), testSecret)

	_, err := uc.Register(ctx, "ab", "longenough", entities.RoleAgent)
	require.Equal(t, ErrorValidation, CodeOf(err))

	_, err = uc.Register(ctx, "carlos", "short", entities.RoleAgent)
	require.Equal(t, ErrorValidation, CodeOf(err))

	_, err = uc.Register(ctx, "carlos", "longenough", "owner")
	require.Equal(t, ErrorValidation, CodeOf(err))

	_, err = uc.Register(ctx, "carlos", "longenough", entities.RoleAdmin)
	require.NoError(t, err)

	_, err = uc.Register(ctx, "carlos", "longenough", entities.RoleAgent)
	require.Equal(t, ErrorConflict, CodeOf(err))
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	ctx := context.Background()
	store := newFakeUserStore()
	uc := NewAuthUsecase(store, testSecret)

	_, err := uc.Register(ctx, "lucia", "longenough", "")
	require.NoError(t, err)
	store.users["lucia"].IsActive = false

	_, err = uc.Login(ctx, "lucia", "longenough")
	require.Equal(t, ErrorValidation, CodeOf(err))
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeUserStore()
	uc := NewAuthUsecase(store, testSecret)

	require.NoError(t, uc.EnsureAdmin(ctx, "root", "rootpassword"))
	require.NoError(t, uc.EnsureAdmin(ctx, "root", "other"))

	users, err := uc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, entities.RoleAdmin, users[0].Role)

	_, err = uc.Login(ctx, "root", "rootpassword")
	require.NoError(t, err)
}

func TestParseTokenRejects(t *testing.T) {
	uc := NewAuthUsecase(newFakeUserStore(), testSecret)
	sign := func(method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}
	future := time.Now().Add(time.Hour).Unix()

	_, err := uc.ParseToken("garbage")
	require.Equal(t, ErrorValidation, CodeOf(err))

	_, err = uc.ParseToken(sign(jwt.SigningMethodHS256, "other", jwt.MapClaims{"user_id": 1, "exp": future}))
	require.Equal(t, ErrorValidation, CodeOf(err))

	_, err = uc.ParseToken(sign(jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"user_id": 1, "exp": future}))
	require.Equal(t, ErrorValidation, CodeOf(err))

	_, err = uc.ParseToken(sign(jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"role": entities.RoleAdmin, "exp": future}))
	require.Equal(t, ErrorValidation, CodeOf(err))

	// Expiry is checked against the usecase clock.
	token := sign(jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"user_id": 1, "exp": future})
	uc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = uc.ParseToken(token)
	require.Equal(t, ErrorValidation, CodeOf(err))
}
