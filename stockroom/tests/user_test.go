package tests

import (
	"net/http"
	"testing"

	"labstock/stockroom/schema"
)

func TestRegisterLoginAndMe(t *testing.T) {
	env := setupTestEnv(t)

	c := &client{api: env.api}

	login, err := c.register("abc", "abc@mail.com", "password123")
	if err != nil {
		t.Fatal(err)
	}

	info, err := c.me()
	if err != nil {
		t.Fatal(err)
	}
	if info.Email != "abc@mail.com" || info.Name != "abc" {
		t.Fatalf("incorrect user info returned: %+v", info)
	}
	if info.Role != schema.RoleStudent {
		t.Fatalf("new users should default to role STUDENT, got %v", info.Role)
	}

	c2 := &client{api: env.api}
	if err := c2.login(login); err != nil {
		t.Fatal(err)
	}
	if c2.userId != c.userId {
		t.Fatal("login should return same user id as registration")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := setupTestEnv(t)

	c := &client{api: env.api}
	if _, err := c.register("abc", "abc@mail.com", "password123"); err != nil {
		t.Fatal(err)
	}

	body := map[string]string{"name": "xyz", "email": "abc@mail.com", "password": "password456"}
	code, msg := (&client{api: env.api}).Post("/auth/register").Json(body).DoExpectingError()
	if code != http.StatusBadRequest {
		t.Fatalf("duplicate email should return 400, got %d: %v", code, msg)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := setupTestEnv(t)
	c := &client{api: env.api}

	for _, body := range []map[string]string{
		{"email": "abc@mail.com"},
		{"password": "password123"},
		{"email": "abc@mail.com", "password": "short"},
	} {
		code, _ := c.Post("/auth/register").Json(body).DoExpectingError()
		if code != http.StatusBadRequest {
			t.Fatalf("register with body %v should return 400, got %d", body, code)
		}
	}
}

func TestLoginFailures(t *testing.T) {
	env := setupTestEnv(t)

	c := &client{api: env.api}
	if _, err := c.register("abc", "abc@mail.com", "password123"); err != nil {
		t.Fatal(err)
	}

	code, _ := c.Post("/auth/login").Json(map[string]string{"email": "abc@mail.com", "password": "wrong_password"}).DoExpectingError()
	if code != http.StatusUnauthorized {
		t.Fatalf("wrong password should return 401, got %d", code)
	}

	code, _ = c.Post("/auth/login").Json(map[string]string{"email": "nobody@mail.com", "password": "password123"}).DoExpectingError()
	if code != http.StatusUnauthorized {
		t.Fatalf("unknown email should return 401, got %d", code)
	}
}

func TestMissingToken(t *testing.T) {
	env := setupTestEnv(t)

	c := &client{api: env.api}

	code, _ := c.Get("/auth/me").DoExpectingError()
	if code != http.StatusUnauthorized {
		t.Fatalf("missing token should return 401, got %d", code)
	}

	code, _ = c.Get("/components/").Header("Authorization", "Bearer garbage").DoExpectingError()
	if code != http.StatusUnauthorized {
		t.Fatalf("invalid token should return 401, got %d", code)
	}
}

func TestAdminUserManagement(t *testing.T) {
	env := setupTestEnv(t)

	student := env.newUser(t, "student1", schema.RoleStudent)
	admin := env.adminClient(t)

	users, err := admin.listUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users (admin + student), got %d", len(users))
	}

	if err := admin.setRole(student.userId, schema.RoleTA); err != nil {
		t.Fatal(err)
	}

	info, err := student.me()
	if err != nil {
		t.Fatal(err)
	}
	if info.Role != schema.RoleTA {
		t.Fatalf("expected role TA after promotion, got %v", info.Role)
	}
}

func TestSetRoleErrors(t *testing.T) {
	env := setupTestEnv(t)

	student := env.newUser(t, "student1", schema.RoleStudent)
	admin := env.adminClient(t)

	code, _ := admin.Put("/users/"+admin.userId.String()+"/role").Json(map[string]string{"role": "STUDENT"}).DoExpectingError()
	if code != http.StatusBadRequest {
		t.Fatalf("changing own role should return 400, got %d", code)
	}

	code, _ = admin.Put("/users/"+student.userId.String()+"/role").Json(map[string]string{"role": "SUPERUSER"}).DoExpectingError()
	if code != http.StatusBadRequest {
		t.Fatalf("invalid role should return 400, got %d", code)
	}

	code, _ = admin.Put("/users/00000000-0000-0000-0000-000000000001/role").Json(map[string]string{"role": "TA"}).DoExpectingError()
	if code != http.StatusNotFound {
		t.Fatalf("unknown user should return 404, got %d", code)
	}
}

func TestUserListRequiresAdmin(t *testing.T) {
	env := setupTestEnv(t)

	for _, role := range []schema.Role{schema.RoleStudent, schema.RoleTA, schema.RoleFaculty} {
		c := env.newUser(t, "user_"+string(role), role)

		// TAs manage inventory but not accounts, so they're rejected too.
		code, _ := c.Get("/users/").DoExpectingError()
		if code != http.StatusForbidden {
			t.Fatalf("role %v should get 403 from user list, got %d", role, code)
		}
	}
}

func TestListFaculty(t *testing.T) {
	env := setupTestEnv(t)

	env.newUser(t, "prof_a", schema.RoleFaculty)
	env.newUser(t, "prof_b", schema.RoleFaculty)
	student := env.newUser(t, "student1", schema.RoleStudent)

	faculty, err := student.listFaculty()
	if err != nil {
		t.Fatal(err)
	}
	if len(faculty) != 2 {
		t.Fatalf("expected 2 faculty, got %d", len(faculty))
	}
	for _, f := range faculty {
		if f.Role != schema.RoleFaculty {
			t.Fatalf("faculty list contains non-faculty user %+v", f)
		}
	}
}
