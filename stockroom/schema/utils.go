package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrComponentNotFound = errors.New("component not found")
	ErrRequestNotFound   = errors.New("request not found")
	ErrDbAccessFailed    = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetComponent(componentId uuid.UUID, db *gorm.DB) (Component, error) {
	var component Component

	result := db.First(&component, "id = ?", componentId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return component, ErrComponentNotFound
		}
		slog.Error("sql error in get component", "component_id", componentId, "error", result.Error)
		return component, ErrDbAccessFailed
	}

	return component, nil
}

func GetRequest(requestId uuid.UUID, db *gorm.DB, loadItems bool) (Request, error) {
	var request Request

	query := db
	if loadItems {
		query = query.Preload("Items")
	}
	result := query.First(&request, "id = ?", requestId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return request, ErrRequestNotFound
		}
		slog.Error("sql error in get request", "request_id", requestId, "error", result.Error)
		return request, ErrDbAccessFailed
	}

	return request, nil
}
