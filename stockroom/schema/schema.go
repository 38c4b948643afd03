package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleFaculty Role = "FACULTY"
	RoleTA      Role = "TA"
	RoleAdmin   Role = "ADMIN"
	// RolePending quarantines an account (typically a fresh SSO sign-in) until an
	// admin assigns a real role. Distinct from the PENDING request status.
	RolePending Role = "PENDING"
)

func CheckValidRole(role Role) error {
	switch role {
	case RoleStudent, RoleFaculty, RoleTA, RoleAdmin, RolePending:
		return nil
	}
	return fmt.Errorf("invalid role '%v'", role)
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusFulfilled RequestStatus = "FULFILLED"
)

func CheckValidStatus(status RequestStatus) error {
	switch status {
	case StatusPending, StatusApproved, StatusRejected, StatusFulfilled:
		return nil
	}
	return fmt.Errorf("invalid request status '%v'", status)
}

const (
	CategoryMicrocontroller = "MICROCONTROLLER"
	CategorySensor          = "SENSOR"
	CategoryActuator        = "ACTUATOR"
	CategoryPassive         = "PASSIVE"
	CategoryCable           = "CABLE"
	CategoryTool            = "TOOL"
	CategoryOther           = "OTHER"
)

func CheckValidCategory(category string) error {
	switch category {
	case CategoryMicrocontroller, CategorySensor, CategoryActuator,
		CategoryPassive, CategoryCable, CategoryTool, CategoryOther:
		return nil
	}
	return fmt.Errorf("invalid category '%v'", category)
}

const (
	LocationShelfA   = "SHELF_A"
	LocationShelfB   = "SHELF_B"
	LocationCabinet1 = "CABINET_1"
	LocationCabinet2 = "CABINET_2"
	LocationStore    = "STOREROOM"
	LocationBench    = "LAB_BENCH"
)

func CheckValidLocation(location string) error {
	switch location {
	case LocationShelfA, LocationShelfB, LocationCabinet1,
		LocationCabinet2, LocationStore, LocationBench:
		return nil
	}
	return fmt.Errorf("invalid location '%v'", location)
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Email string `gorm:"unique;size:254;not null"`
	Name  string `gorm:"size:100;not null"`

	// Password is nil for externally-authenticated (SSO) accounts.
	Password []byte

	Role Role `gorm:"size:20;not null"`

	// ExternalId is the SSO subject identifier, nil for password accounts.
	ExternalId *string `gorm:"unique;size:100"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Component struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"size:200;not null"`
	Description string
	ImageUrl    string `gorm:"size:500"`

	// Invariant: 0 <= AvailableQuantity <= TotalQuantity.
	TotalQuantity     int `gorm:"not null"`
	AvailableQuantity int `gorm:"not null"`

	Category *string `gorm:"size:50"`
	Location *string `gorm:"size:50"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Request struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null;index"`
	User   *User

	TargetFacultyId uuid.UUID `gorm:"type:uuid;not null;index"`
	TargetFaculty   *User     `gorm:"foreignKey:TargetFacultyId"`

	ProjectTitle string        `gorm:"size:200;not null"`
	Status       RequestStatus `gorm:"size:20;not null"`

	Items []RequestItem `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type RequestItem struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	RequestId   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_request_component"`
	ComponentId uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_request_component"`
	Component   *Component

	Quantity int `gorm:"not null"`
}

// AllModels is the migration target list shared by server boot and tests.
func AllModels() []interface{} {
	return []interface{}{&User{}, &Component{}, &Request{}, &RequestItem{}}
}
