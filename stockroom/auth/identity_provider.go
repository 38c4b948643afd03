package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"labstock/stockroom/schema"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFoundWithEmail = errors.New("no user found for given email")
	ErrInvalidCredentials    = errors.New("invalid login credentials")
	ErrGeneratingJwt         = errors.New("error generating jwt")
	ErrEmailAlreadyInUse     = errors.New("email is already in use")
	ErrTokenLoginUnsupported = errors.New("token login is not supported for this identity provider")
)

type LoginResult struct {
	User        schema.User
	AccessToken string
}

type IdentityProvider interface {
	AuthMiddleware() chi.Middlewares

	AllowDirectSignup() bool

	LoginWithEmail(email, password string) (LoginResult, error)

	// LoginWithToken exchanges an access token issued by an external identity
	// provider, provisioning a local account on first sign-in.
	LoginWithToken(accessToken string) (LoginResult, error)

	CreateUser(name, email, password string, role schema.Role) (schema.User, error)
}

func addInitialAdminToDb(db *gorm.DB, userId uuid.UUID, name, email string, password []byte) error {
	user := schema.User{
		Id:       userId,
		Name:     name,
		Email:    email,
		Role:     schema.RoleAdmin,
		Password: password,
	}

	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "id = ? or email = ?", userId, email)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			result := txn.Create(&user)
			if result.Error != nil {
				slog.Error("sql error creating initial admin user", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}

type requestContextKey string

const UserRequestContextKey requestContextKey = "user"
