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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	fulfillmentMetric = promauto.NewSummary(prometheus.SummaryOpts{Name: "request_fulfillment", Help: "Request fulfillment transactions"})

	insufficientStockMetric = promauto.NewCounter(prometheus.CounterOpts{Name: "request_insufficient_stock", Help: "Fulfillments aborted due to insufficient stock"})
)

type RequestService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *RequestService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)
	r.Use(auth.ActiveOnly())

	r.Post("/", s.Create)
	r.Get("/", s.List)
	r.Put("/{request_id}", s.UpdateStatus)
	r.Delete("/{request_id}", s.Delete)

	return r
}

// The lifecycle is a fixed graph: PENDING -> {APPROVED, REJECTED},
// APPROVED -> FULFILLED. REJECTED and FULFILLED are terminal. Each legal edge
// carries its own authorization predicate; fulfillment is the only edge with
// an inventory side effect.
type transition struct {
	from, to schema.RequestStatus
}

type transitionRule struct {
	authorized  func(caller schema.User, request *schema.Request) bool
	deductStock bool
}

// A PENDING request is decided by the faculty member it targets, or by an
// admin/ta acting on their behalf.
func canDecide(caller schema.User, request *schema.Request) bool {
	if auth.IsManager(caller.Role) {
		return true
	}
	return caller.Role == schema.RoleFaculty && caller.Id == request.TargetFacultyId
}

// Fulfillment hands out physical stock, which only admin/ta do.
func canFulfill(caller schema.User, request *schema.Request) bool {
	return auth.IsManager(caller.Role)
}

var transitionTable = map[transition]transitionRule{
	{schema.StatusPending, schema.StatusApproved}:   {authorized: canDecide},
	{schema.StatusPending, schema.StatusRejected}:   {authorized: canDecide},
	{schema.StatusApproved, schema.StatusFulfilled}: {authorized: canFulfill, deductStock: true},
}

func transitionError(from, to schema.RequestStatus) error {
	switch from {
	case schema.StatusRejected, schema.StatusFulfilled:
		return fmt.Errorf("request is %v, no further transitions are allowed", from)
	case schema.StatusPending:
		if to == schema.StatusFulfilled {
			return errors.New("request must be approved before it can be fulfilled")
		}
	}
	return fmt.Errorf("cannot transition request from %v to %v", from, to)
}

type RequestItemInfo struct {
	Id          uuid.UUID `json:"id"`
	ComponentId uuid.UUID `json:"componentId"`
	Quantity    int       `json:"quantity"`
}

type RequestInfo struct {
	Id              uuid.UUID            `json:"id"`
	UserId          uuid.UUID            `json:"userId"`
	TargetFacultyId uuid.UUID            `json:"targetFacultyId"`
	ProjectTitle    string               `json:"projectTitle"`
	Status          schema.RequestStatus `json:"status"`
	Items           []RequestItemInfo    `json:"items"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func convertToRequestInfo(request *schema.Request) RequestInfo {
	items := make([]RequestItemInfo, 0, len(request.Items))
	for _, item := range request.Items {
		items = append(items, RequestItemInfo{
			Id:          item.Id,
			ComponentId: item.ComponentId,
			Quantity:    item.Quantity,
		})
	}

	return RequestInfo{
		Id:              request.Id,
		UserId:          request.UserId,
		TargetFacultyId: request.TargetFacultyId,
		ProjectTitle:    request.ProjectTitle,
		Status:          request.Status,
		Items:           items,
		CreatedAt:       request.CreatedAt,
		UpdatedAt:       request.UpdatedAt,
	}
}

type requestResponse struct {
	Request RequestInfo `json:"request"`
}

type requestListResponse struct {
	Requests []RequestInfo `json:"requests"`
}

type createRequestItem struct {
	ComponentId uuid.UUID `json:"componentId"`
	Quantity    int       `json:"quantity"`
}

type createRequestRequest struct {
	ProjectTitle    string              `json:"projectTitle"`
	TargetFacultyId uuid.UUID           `json:"targetFacultyId"`
	Items           []createRequestItem `json:"items"`
}

func (s *RequestService) Create(w http.ResponseWriter, r *http.Request) {
	var params createRequestRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	caller, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if params.ProjectTitle == "" {
		utils.WriteError(w, http.StatusBadRequest, "projectTitle must be specified")
		return
	}
	if params.TargetFacultyId == uuid.Nil {
		utils.WriteError(w, http.StatusBadRequest, "targetFacultyId must be specified")
		return
	}
	if len(params.Items) == 0 {
		utils.WriteError(w, http.StatusBadRequest, "request must contain at least one item")
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(params.Items))
	for _, item := range params.Items {
		if item.Quantity <= 0 {
			utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("item quantity must be positive, got %d for component %v", item.Quantity, item.ComponentId))
			return
		}
		if _, ok := seen[item.ComponentId]; ok {
			utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("duplicate component %v in request items", item.ComponentId))
			return
		}
		seen[item.ComponentId] = struct{}{}
	}

	request := schema.Request{
		Id:              uuid.New(),
		UserId:          caller.Id,
		TargetFacultyId: params.TargetFacultyId,
		ProjectTitle:    params.ProjectTitle,
		Status:          schema.StatusPending,
	}
	for _, item := range params.Items {
		request.Items = append(request.Items, schema.RequestItem{
			Id:          uuid.New(),
			RequestId:   request.Id,
			ComponentId: item.ComponentId,
			Quantity:    item.Quantity,
		})
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		faculty, err := schema.GetUser(params.TargetFacultyId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return CodedError(fmt.Errorf("target faculty %v not found", params.TargetFacultyId), http.StatusBadRequest)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if faculty.Role != schema.RoleFaculty {
			return CodedError(fmt.Errorf("user %v is not a faculty member", params.TargetFacultyId), http.StatusBadRequest)
		}

		componentIds := make([]uuid.UUID, 0, len(params.Items))
		for _, item := range params.Items {
			componentIds = append(componentIds, item.ComponentId)
		}

		var count int64
		result := txn.Model(&schema.Component{}).Where("id IN ?", componentIds).Count(&count)
		if result.Error != nil {
			slog.Error("sql error checking request components", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if count != int64(len(componentIds)) {
			return CodedError(errors.New("request references unknown components"), http.StatusBadRequest)
		}

		result = txn.Create(&request)
		if result.Error != nil {
			slog.Error("sql error creating request", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		writeCodedError(w, err)
		return
	}

	slog.Info("request created", "request_id", request.Id, "user_id", caller.Id, "target_faculty_id", params.TargetFacultyId)

	utils.WriteJsonResponse(w, http.StatusCreated, requestResponse{Request: convertToRequestInfo(&request)})
}

func (s *RequestService) List(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	query := s.db.Preload("Items").Order("created_at desc")

	switch {
	case auth.IsManager(caller.Role):
		// Admin/ta see everything and may filter.
		if userFilter := r.URL.Query().Get("userId"); userFilter != "" {
			userId, err := uuid.Parse(userFilter)
			if err != nil {
				utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid userId filter '%v'", userFilter))
				return
			}
			query = query.Where("user_id = ?", userId)
		}
		if statusFilter := r.URL.Query().Get("status"); statusFilter != "" {
			status := schema.RequestStatus(statusFilter)
			if err := schema.CheckValidStatus(status); err != nil {
				utils.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			query = query.Where("status = ?", status)
		}
	case caller.Role == schema.RoleFaculty:
		query = query.Where("target_faculty_id = ?", caller.Id)
	default:
		// Any caller-supplied filters are ignored for non-privileged roles.
		query = query.Where("user_id = ?", caller.Id)
	}

	var requests []schema.Request
	result := query.Find(&requests)
	if result.Error != nil {
		slog.Error("sql error listing requests", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error listing requests: %v", schema.ErrDbAccessFailed))
		return
	}

	infos := make([]RequestInfo, 0, len(requests))
	for _, req := range requests {
		infos = append(infos, convertToRequestInfo(&req))
	}
	utils.WriteJsonResponse(w, http.StatusOK, requestListResponse{Requests: infos})
}

type updateStatusRequest struct {
	Status schema.RequestStatus `json:"status"`
}

func (s *RequestService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	requestId, err := utils.URLParamUUID(r, "request_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var params updateStatusRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	target := params.Status
	if target != schema.StatusApproved && target != schema.StatusRejected && target != schema.StatusFulfilled {
		utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid target status '%v', must be APPROVED, REJECTED, or FULFILLED", target))
		return
	}

	caller, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var request schema.Request
	err = s.db.Transaction(func(txn *gorm.DB) error {
		request, err = schema.GetRequest(requestId, txn, true)
		if err != nil {
			if errors.Is(err, schema.ErrRequestNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		rule, ok := transitionTable[transition{from: request.Status, to: target}]
		if !ok {
			return CodedError(transitionError(request.Status, target), http.StatusBadRequest)
		}

		if !rule.authorized(caller, &request) {
			return CodedError(fmt.Errorf("user %v is not authorized to move request %v to %v", caller.Id, requestId, target), http.StatusForbidden)
		}

		if rule.deductStock {
			if err := deductStock(txn, &request); err != nil {
				return err
			}
		}

		result := txn.Model(&schema.Request{Id: request.Id}).Update("status", target)
		if result.Error != nil {
			slog.Error("sql error updating request status", "request_id", requestId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		request.Status = target

		return nil
	})

	if err != nil {
		writeCodedError(w, err)
		return
	}

	slog.Info("request status updated", "request_id", requestId, "status", target, "caller_id", caller.Id)

	utils.WriteJsonResponse(w, http.StatusOK, requestResponse{Request: convertToRequestInfo(&request)})
}

// deductStock applies the conditional decrement for every item of an approved
// request. Each decrement is a single predicated UPDATE so that concurrent
// fulfillments of the same component cannot both succeed in overdrawing it;
// the losing transaction sees zero rows affected and rolls back. Must run
// inside the surrounding status transaction.
func deductStock(txn *gorm.DB, request *schema.Request) error {
	timer := prometheus.NewTimer(fulfillmentMetric)
	defer timer.ObserveDuration()

	for _, item := range request.Items {
		result := txn.Model(&schema.Component{}).
			Where("id = ? AND available_quantity >= ?", item.ComponentId, item.Quantity).
			UpdateColumn("available_quantity", gorm.Expr("available_quantity - ?", item.Quantity))

		if result.Error != nil {
			slog.Error("sql error decrementing component stock", "request_id", request.Id, "component_id", item.ComponentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if result.RowsAffected == 0 {
			insufficientStockMetric.Inc()
			name := shortComponentName(txn, item.ComponentId)
			return CodedError(fmt.Errorf("insufficient quantity of component %v to fulfill request", name), http.StatusBadRequest)
		}
	}

	return nil
}

// shortComponentName is best effort, only used to build the error message for
// the component that blocked fulfillment.
func shortComponentName(txn *gorm.DB, componentId uuid.UUID) string {
	component, err := schema.GetComponent(componentId, txn)
	if err != nil {
		return componentId.String()
	}
	return fmt.Sprintf("'%v' (%v)", component.Name, componentId)
}

func (s *RequestService) Delete(w http.ResponseWriter, r *http.Request) {
	requestId, err := utils.URLParamUUID(r, "request_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		request, err := schema.GetRequest(requestId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrRequestNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if request.UserId != caller.Id && !auth.IsManager(caller.Role) {
			return CodedError(fmt.Errorf("user %v is not authorized to delete request %v", caller.Id, requestId), http.StatusForbidden)
		}

		if request.Status != schema.StatusPending {
			return CodedError(fmt.Errorf("request is %v, only pending requests can be deleted", request.Status), http.StatusBadRequest)
		}

		result := txn.Where("request_id = ?", requestId).Delete(&schema.RequestItem{})
		if result.Error != nil {
			slog.Error("sql error deleting request items", "request_id", requestId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Request{Id: requestId})
		if result.Error != nil {
			slog.Error("sql error deleting request", "request_id", requestId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		writeCodedError(w, err)
		return
	}

	slog.Info("request deleted", "request_id", requestId, "caller_id", caller.Id)

	utils.WriteNoContent(w)
}
