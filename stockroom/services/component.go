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
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ComponentService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *ComponentService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/", s.List)
	r.Get("/{component_id}", s.Get)

	r.Group(func(r chi.Router) {
		r.Use(auth.ActiveOnly())
		r.Use(auth.ManagerOnly())

		r.Post("/", s.Create)
		r.Put("/{component_id}", s.Update)
		r.Delete("/{component_id}", s.Delete)
	})

	return r
}

type ComponentInfo struct {
	Id                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	ImageUrl          string    `json:"imageUrl"`
	TotalQuantity     int       `json:"totalQuantity"`
	AvailableQuantity int       `json:"availableQuantity"`
	Category          *string   `json:"category"`
	Location          *string   `json:"location"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func convertToComponentInfo(component *schema.Component) ComponentInfo {
	return ComponentInfo{
		Id:                component.Id,
		Name:              component.Name,
		Description:       component.Description,
		ImageUrl:          component.ImageUrl,
		TotalQuantity:     component.TotalQuantity,
		AvailableQuantity: component.AvailableQuantity,
		Category:          component.Category,
		Location:          component.Location,
		CreatedAt:         component.CreatedAt,
		UpdatedAt:         component.UpdatedAt,
	}
}

type componentListResponse struct {
	Components []ComponentInfo `json:"components"`
}

type componentResponse struct {
	Component ComponentInfo `json:"component"`
}

func (s *ComponentService) List(w http.ResponseWriter, r *http.Request) {
	var components []schema.Component
	result := s.db.Order("name").Find(&components)
	if result.Error != nil {
		slog.Error("sql error listing components", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error listing components: %v", schema.ErrDbAccessFailed))
		return
	}

	infos := make([]ComponentInfo, 0, len(components))
	for _, c := range components {
		infos = append(infos, convertToComponentInfo(&c))
	}
	utils.WriteJsonResponse(w, http.StatusOK, componentListResponse{Components: infos})
}

func (s *ComponentService) Get(w http.ResponseWriter, r *http.Request) {
	componentId, err := utils.URLParamUUID(r, "component_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	component, err := schema.GetComponent(componentId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrComponentNotFound) {
			utils.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error getting component: %v", err))
		return
	}

	utils.WriteJsonResponse(w, http.StatusOK, componentResponse{Component: convertToComponentInfo(&component)})
}

type createComponentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageUrl    string `json:"imageUrl"`

	TotalQuantity int `json:"totalQuantity"`
	// AvailableQuantity defaults to TotalQuantity when omitted. An explicit
	// value below TotalQuantity creates a partially available component.
	AvailableQuantity *int `json:"availableQuantity"`

	Category *string `json:"category"`
	Location *string `json:"location"`
}

func checkComponentEnums(category, location *string) error {
	if category != nil {
		if err := schema.CheckValidCategory(*category); err != nil {
			return err
		}
	}
	if location != nil {
		if err := schema.CheckValidLocation(*location); err != nil {
			return err
		}
	}
	return nil
}

func checkQuantityBounds(available, total int) error {
	if total < 0 {
		return fmt.Errorf("totalQuantity cannot be negative")
	}
	if available < 0 {
		return fmt.Errorf("availableQuantity cannot be negative")
	}
	if available > total {
		return fmt.Errorf("availableQuantity (%d) cannot exceed totalQuantity (%d)", available, total)
	}
	return nil
}

func (s *ComponentService) Create(w http.ResponseWriter, r *http.Request) {
	var params createComponentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		utils.WriteError(w, http.StatusBadRequest, "component name must be specified")
		return
	}
	if err := checkComponentEnums(params.Category, params.Location); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	available := params.TotalQuantity
	if params.AvailableQuantity != nil {
		available = *params.AvailableQuantity
	}
	if err := checkQuantityBounds(available, params.TotalQuantity); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	component := schema.Component{
		Id:                uuid.New(),
		Name:              params.Name,
		Description:       params.Description,
		ImageUrl:          params.ImageUrl,
		TotalQuantity:     params.TotalQuantity,
		AvailableQuantity: available,
		Category:          params.Category,
		Location:          params.Location,
	}

	result := s.db.Create(&component)
	if result.Error != nil {
		slog.Error("sql error creating component", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error creating component: %v", schema.ErrDbAccessFailed))
		return
	}

	slog.Info("component created", "component_id", component.Id, "name", component.Name)

	utils.WriteJsonResponse(w, http.StatusCreated, componentResponse{Component: convertToComponentInfo(&component)})
}

type updateComponentRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ImageUrl    *string `json:"imageUrl"`

	TotalQuantity     *int `json:"totalQuantity"`
	AvailableQuantity *int `json:"availableQuantity"`

	Category *string `json:"category"`
	Location *string `json:"location"`
}

func (s *ComponentService) Update(w http.ResponseWriter, r *http.Request) {
	componentId, err := utils.URLParamUUID(r, "component_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var params updateComponentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := checkComponentEnums(params.Category, params.Location); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.Name != nil && *params.Name == "" {
		utils.WriteError(w, http.StatusBadRequest, "component name cannot be empty")
		return
	}

	var component schema.Component
	err = s.db.Transaction(func(txn *gorm.DB) error {
		component, err = schema.GetComponent(componentId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrComponentNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Name != nil {
			component.Name = *params.Name
		}
		if params.Description != nil {
			component.Description = *params.Description
		}
		if params.ImageUrl != nil {
			component.ImageUrl = *params.ImageUrl
		}
		if params.Category != nil {
			component.Category = params.Category
		}
		if params.Location != nil {
			component.Location = params.Location
		}

		if params.TotalQuantity != nil {
			component.TotalQuantity = *params.TotalQuantity
			if params.AvailableQuantity == nil {
				// Changing the total without an explicit available re-bases
				// availability to the new total.
				component.AvailableQuantity = *params.TotalQuantity
			}
		}
		if params.AvailableQuantity != nil {
			component.AvailableQuantity = *params.AvailableQuantity
		}

		if err := checkQuantityBounds(component.AvailableQuantity, component.TotalQuantity); err != nil {
			return CodedError(err, http.StatusBadRequest)
		}

		result := txn.Save(&component)
		if result.Error != nil {
			slog.Error("sql error updating component", "component_id", componentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		writeCodedError(w, err)
		return
	}

	utils.WriteJsonResponse(w, http.StatusOK, componentResponse{Component: convertToComponentInfo(&component)})
}

func (s *ComponentService) Delete(w http.ResponseWriter, r *http.Request) {
	componentId, err := utils.URLParamUUID(r, "component_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, err := schema.GetComponent(componentId, txn); err != nil {
			if errors.Is(err, schema.ErrComponentNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		// Referential-integrity guard: never cascade into request history.
		var refs int64
		result := txn.Model(&schema.RequestItem{}).Where("component_id = ?", componentId).Count(&refs)
		if result.Error != nil {
			slog.Error("sql error counting component references", "component_id", componentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if refs > 0 {
			return CodedError(fmt.Errorf("component is referenced by %d request item(s) and cannot be deleted", refs), http.StatusBadRequest)
		}

		result = txn.Delete(&schema.Component{Id: componentId})
		if result.Error != nil {
			slog.Error("sql error deleting component", "component_id", componentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		writeCodedError(w, err)
		return
	}

	slog.Info("component deleted", "component_id", componentId)

	utils.WriteNoContent(w)
}
