package tests

import (
	"net/http"
	"testing"

	"labstock/stockroom/schema"

	"github.com/stretchr/testify/assert"
)

func TestComponentCrud(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)

	component, err := admin.createComponent(map[string]interface{}{
		"name":          "Arduino Uno",
		"description":   "ATmega328P dev board",
		"totalQuantity": 10,
		"category":      "MICROCONTROLLER",
		"location":      "SHELF_A",
	})
	if err != nil {
		t.Fatal(err)
	}

	if component.AvailableQuantity != 10 {
		t.Fatalf("availableQuantity should default to totalQuantity, got %d", component.AvailableQuantity)
	}

	fetched, err := admin.getComponent(component.Id)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Arduino Uno", fetched.Name)
	assert.Equal(t, 10, fetched.TotalQuantity)
	assert.NotNil(t, fetched.Category)
	assert.Equal(t, "MICROCONTROLLER", *fetched.Category)

	updated, err := admin.updateComponent(component.Id, map[string]interface{}{
		"description": "ATmega328P development board",
		"location":    "CABINET_1",
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "ATmega328P development board", updated.Description)
	assert.Equal(t, "CABINET_1", *updated.Location)

	if err := admin.deleteComponent(component.Id); err != nil {
		t.Fatal(err)
	}

	code, _ := admin.Get("/components/" + component.Id.String()).DoExpectingError()
	if code != http.StatusNotFound {
		t.Fatalf("deleted component should return 404, got %d", code)
	}
}

func TestComponentValidation(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{"totalQuantity": 5}},
		{"negative total", map[string]interface{}{"name": "x", "totalQuantity": -1}},
		{"available exceeds total", map[string]interface{}{"name": "x", "totalQuantity": 5, "availableQuantity": 6}},
		{"negative available", map[string]interface{}{"name": "x", "totalQuantity": 5, "availableQuantity": -1}},
		{"bad category", map[string]interface{}{"name": "x", "totalQuantity": 5, "category": "WIDGET"}},
		{"bad location", map[string]interface{}{"name": "x", "totalQuantity": 5, "location": "ATTIC"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := admin.Post("/components/").Json(tt.body).DoExpectingError()
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestComponentPartialAvailability(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient(t)

	component, err := admin.createComponent(map[string]interface{}{
		"name":              "HC-SR04",
		"totalQuantity":     20,
		"availableQuantity": 15,
	})
	if err != nil {
		t.Fatal(err)
	}
	if component.AvailableQuantity != 15 {
		t.Fatalf("expected availableQuantity 15, got %d", component.AvailableQuantity)
	}

	// Updating the total without an explicit available re-bases availability.
	updated, err := admin.updateComponent(component.Id, map[string]interface{}{"totalQuantity": 30})
	if err != nil {
		t.Fatal(err)
	}
	if updated.AvailableQuantity != 30 {
		t.Fatalf("expected availableQuantity re-based to 30, got %d", updated.AvailableQuantity)
	}

	code, _ := admin.Put("/components/"+component.Id.String()).Json(map[string]interface{}{"availableQuantity": 31}).DoExpectingError()
	if code != http.StatusBadRequest {
		t.Fatalf("available above total should return 400, got %d", code)
	}
}

func TestComponentRolePermissions(t *testing.T) {
	env := setupTestEnv(t)

	student := env.newUser(t, "student1", schema.RoleStudent)
	ta := env.newUser(t, "ta1", schema.RoleTA)
	faculty := env.newUser(t, "prof1", schema.RoleFaculty)

	body := map[string]interface{}{"name": "Resistor 1k", "totalQuantity": 100}

	code, _ := student.Post("/components/").Json(body).DoExpectingError()
	if code != http.StatusForbidden {
		t.Fatalf("student create should return 403, got %d", code)
	}

	code, _ = faculty.Post("/components/").Json(body).DoExpectingError()
	if code != http.StatusForbidden {
		t.Fatalf("faculty create should return 403, got %d", code)
	}

	component, err := ta.createComponent(body)
	if err != nil {
		t.Fatalf("ta should be able to create components: %v", err)
	}

	// Browsing is open to everyone who is signed in.
	components, err := student.listComponents()
	if err != nil {
		t.Fatal(err)
	}
	if len(components) != 1 || components[0].Id != component.Id {
		t.Fatalf("student should see the created component, got %+v", components)
	}
}

func TestDeleteReferencedComponent(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.adminClient(t)
	faculty := env.newUser(t, "prof1", schema.RoleFaculty)
	student := env.newUser(t, "student1", schema.RoleStudent)

	component, err := admin.createComponent(map[string]interface{}{"name": "ESP32", "totalQuantity": 5})
	if err != nil {
		t.Fatal(err)
	}

	_, err = student.createRequest("IoT sensor node", faculty.userId, []requestItemArg{
		{ComponentId: component.Id, Quantity: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	code, msg := admin.Delete("/components/" + component.Id.String()).DoExpectingError()
	if code != http.StatusBadRequest {
		t.Fatalf("deleting referenced component should return 400, got %d: %v", code, msg)
	}

	// Still present afterwards.
	if _, err := admin.getComponent(component.Id); err != nil {
		t.Fatal(err)
	}
}
