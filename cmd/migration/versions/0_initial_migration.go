package versions

import (
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

/*
 * Migrations define their own snapshot of the schema structs instead of
 * importing stockroom/schema. The live schema structs change over time, and a
 * migration must keep creating the tables exactly as they looked when it was
 * written.
 */

func Migration_0_initial_migration(txn *gorm.DB) error {
	log.Println("performing initial migration")

	type User struct {
		Id         uuid.UUID `gorm:"type:uuid;primaryKey"`
		Email      string    `gorm:"size:254;not null;unique"`
		Name       string    `gorm:"size:100;not null"`
		Password   []byte
		Role       string  `gorm:"size:20;not null"`
		ExternalId *string `gorm:"size:100;unique"`

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	type Component struct {
		Id                uuid.UUID `gorm:"type:uuid;primaryKey"`
		Name              string    `gorm:"size:200;not null"`
		Description       string
		ImageUrl          string
		TotalQuantity     int `gorm:"not null"`
		AvailableQuantity int `gorm:"not null"`
		Category          *string `gorm:"size:50"`
		Location          *string `gorm:"size:50"`

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	type Request struct {
		Id              uuid.UUID `gorm:"type:uuid;primaryKey"`
		UserId          uuid.UUID `gorm:"type:uuid;not null"`
		TargetFacultyId uuid.UUID `gorm:"type:uuid;not null"`
		ProjectTitle    string    `gorm:"size:200;not null"`
		Status          string    `gorm:"size:20;not null"`

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	type RequestItem struct {
		Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
		RequestId   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_request_component"`
		ComponentId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_request_component"`
		Quantity    int       `gorm:"not null"`
	}

	err := txn.Migrator().AutoMigrate(&User{}, &Component{}, &Request{}, &RequestItem{})
	if err != nil {
		return err
	}

	log.Println("initial migration complete")

	return nil
}
