package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"labstock/stockroom/auth"
	"labstock/stockroom/schema"
	"labstock/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

// AuthRoutes serves the /auth subtree.
func (s *UserService) AuthRoutes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(20, time.Minute))

		if s.userAuth.AllowDirectSignup() {
			r.Post("/register", s.Register)
		}
		r.Post("/login", s.Login)
		r.Post("/sso", s.SsoLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/me", s.Me)
	})

	return r
}

// FacultyRoutes serves the /faculty subtree.
func (s *UserService) FacultyRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)
	r.Use(auth.ActiveOnly())

	r.Get("/", s.ListFaculty)

	return r
}

// AdminRoutes serves the /users subtree.
func (s *UserService) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)
	r.Use(auth.AdminOnly())

	r.Get("/", s.List)
	r.Put("/{user_id}/role", s.SetRole)

	return r
}

type UserInfo struct {
	Id    uuid.UUID   `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  schema.Role `json:"role"`
}

func convertToUserInfo(user *schema.User) UserInfo {
	return UserInfo{
		Id:    user.Id,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginResponse struct {
	User  UserInfo `json:"user"`
	Token string   `json:"token"`
}

const minPasswordLen = 8

func (s *UserService) Register(w http.ResponseWriter, r *http.Request) {
	var params registerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Email == "" || params.Password == "" {
		utils.WriteError(w, http.StatusBadRequest, "email and password must be specified")
		return
	}
	if len(params.Password) < minPasswordLen {
		utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
		return
	}

	name := params.Name
	if name == "" {
		name = params.Email
	}

	_, err := s.userAuth.CreateUser(name, params.Email, params.Password, schema.RoleStudent)
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, auth.ErrEmailAlreadyInUse) {
			responseCode = http.StatusBadRequest
		}
		utils.WriteError(w, responseCode, fmt.Sprintf("error creating user: %v", err))
		return
	}

	login, err := s.userAuth.LoginWithEmail(params.Email, params.Password)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("login failed after registration: %v", err))
		return
	}

	utils.WriteJsonResponse(w, http.StatusCreated, loginResponse{User: convertToUserInfo(&login.User), Token: login.AccessToken})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *UserService) Login(w http.ResponseWriter, r *http.Request) {
	var params loginRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	login, err := s.userAuth.LoginWithEmail(params.Email, params.Password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUserNotFoundWithEmail):
			responseCode = http.StatusUnauthorized
		case errors.Is(err, auth.ErrInvalidCredentials):
			responseCode = http.StatusUnauthorized
		}
		utils.WriteError(w, responseCode, fmt.Sprintf("login failed: %v", err))
		return
	}

	utils.WriteJsonResponse(w, http.StatusOK, loginResponse{User: convertToUserInfo(&login.User), Token: login.AccessToken})
}

type ssoLoginRequest struct {
	AccessToken string `json:"access_token"`
}

func (s *UserService) SsoLogin(w http.ResponseWriter, r *http.Request) {
	var params ssoLoginRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	login, err := s.userAuth.LoginWithToken(params.AccessToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenLoginUnsupported) {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.WriteError(w, http.StatusUnauthorized, fmt.Sprintf("login failed: %v", err))
		return
	}

	utils.WriteJsonResponse(w, http.StatusOK, loginResponse{User: convertToUserInfo(&login.User), Token: login.AccessToken})
}

type userResponse struct {
	User UserInfo `json:"user"`
}

func (s *UserService) Me(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.WriteJsonResponse(w, http.StatusOK, userResponse{User: convertToUserInfo(&user)})
}

type facultyListResponse struct {
	Faculty []UserInfo `json:"faculty"`
}

func (s *UserService) ListFaculty(w http.ResponseWriter, r *http.Request) {
	var users []schema.User
	result := s.db.Order("name").Find(&users, "role = ?", schema.RoleFaculty)
	if result.Error != nil {
		slog.Error("sql error listing faculty", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error listing faculty: %v", schema.ErrDbAccessFailed))
		return
	}

	infos := make([]UserInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, convertToUserInfo(&u))
	}
	utils.WriteJsonResponse(w, http.StatusOK, facultyListResponse{Faculty: infos})
}

type userListResponse struct {
	Users []UserInfo `json:"users"`
}

func (s *UserService) List(w http.ResponseWriter, r *http.Request) {
	var users []schema.User
	result := s.db.Order("created_at").Find(&users)
	if result.Error != nil {
		slog.Error("sql error listing users", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error listing users: %v", schema.ErrDbAccessFailed))
		return
	}

	infos := make([]UserInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, convertToUserInfo(&u))
	}
	utils.WriteJsonResponse(w, http.StatusOK, userListResponse{Users: infos})
}

type setRoleRequest struct {
	Role schema.Role `json:"role"`
}

func (s *UserService) SetRole(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var params setRoleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := schema.CheckValidRole(params.Role); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Admins assign roles to others, never to themselves.
	if caller.Id == userId {
		utils.WriteError(w, http.StatusBadRequest, "cannot change own role")
		return
	}

	var user schema.User
	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err = schema.GetUser(userId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		user.Role = params.Role

		result := txn.Save(&user)
		if result.Error != nil {
			slog.Error("sql error updating user role", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		writeCodedError(w, err)
		return
	}

	utils.WriteJsonResponse(w, http.StatusOK, userResponse{User: convertToUserInfo(&user)})
}
