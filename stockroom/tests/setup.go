package tests

import (
	"bytes"
	"testing"

	"labstock/stockroom/auth"
	"labstock/stockroom/schema"
	"labstock/stockroom/services"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	api chi.Router
	db  *gorm.DB
}

const (
	adminName     = "admin123"
	adminEmail    = "admin123@mail.com"
	adminPassword = "admin_password123"
)

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.AutoMigrate(schema.AllModels()...); err != nil {
		t.Fatal(err)
	}

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(new(bytes.Buffer)),
		auth.BasicProviderArgs{
			Secret:        []byte("290zcv02ai249"),
			AdminName:     adminName,
			AdminEmail:    adminEmail,
			AdminPassword: adminPassword,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	server := services.NewInventoryServer(db, userAuth)

	return &testEnv{api: server.Routes(), db: db}
}

func (env *testEnv) adminClient(t *testing.T) *client {
	c := &client{api: env.api}
	if err := c.login(loginInfo{Email: adminEmail, Password: adminPassword}); err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	return c
}

// newUser registers a fresh account and, when role isn't STUDENT, has the
// admin promote it before logging back in so the token reflects the role.
func (env *testEnv) newUser(t *testing.T, name string, role schema.Role) *client {
	c := &client{api: env.api}

	login, err := c.register(name, name+"@mail.com", "password_"+name)
	if err != nil {
		t.Fatalf("error registering user %v: %v", name, err)
	}

	if role != schema.RoleStudent {
		admin := env.adminClient(t)
		if err := admin.setRole(c.userId, role); err != nil {
			t.Fatalf("error setting role %v for user %v: %v", role, name, err)
		}
	}

	if err := c.login(login); err != nil {
		t.Fatalf("error logging in user %v: %v", name, err)
	}

	return c
}
