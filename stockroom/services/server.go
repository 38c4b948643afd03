package services

import (
	"log"
	"net/http"
	"os"

	"labstock/stockroom/auth"
	"labstock/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type InventoryServer struct {
	user      UserService
	component ComponentService
	request   RequestService
}

func NewInventoryServer(db *gorm.DB, userAuth auth.IdentityProvider) InventoryServer {
	return InventoryServer{
		user:      UserService{db: db, userAuth: userAuth},
		component: ComponentService{db: db, userAuth: userAuth},
		request:   RequestService{db: db, userAuth: userAuth},
	}
}

func (s *InventoryServer) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/auth", s.user.AuthRoutes())
	r.Mount("/users", s.user.AdminRoutes())
	r.Mount("/faculty", s.user.FacultyRoutes())
	r.Mount("/components", s.component.Routes())
	r.Mount("/requests", s.request.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
