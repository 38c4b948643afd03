package tests

import (
	"fmt"
	"net/http"
	"testing"

	"labstock/stockroom/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLifecycle(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.adminClient(t)
	faculty := env.newUser(t, "prof1", schema.RoleFaculty)
	student := env.newUser(t, "student1", schema.RoleStudent)

	component, err := admin.createComponent(map[string]interface{}{"name": "Arduino Uno", "totalQuantity": 10})
	require.NoError(t, err)

	request, err := student.createRequest("Line follower robot", faculty.userId, []requestItemArg{
		{ComponentId: component.Id, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusPending, request.Status)
	assert.Equal(t, student.userId, request.UserId)

	// Submitting a request must not touch stock.
	c, err := student.getComponent(component.Id)
	require.NoError(t, err)
	assert.Equal(t, 10, c.AvailableQuantity)

	request, err = faculty.updateRequestStatus(request.Id, schema.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusApproved, request.Status)

	// Approval reserves nothing either, stock moves only at fulfillment.
	c, err = student.getComponent(component.Id)
	require.NoError(t, err)
	assert.Equal(t, 10, c.AvailableQuantity)

	request, err = admin.updateRequestStatus(request.Id, schema.StatusFulfilled)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusFulfilled, request.Status)

	c, err = student.getComponent(component.Id)
	require.NoError(t, err)
	assert.Equal(t, 7, c.AvailableQuantity)
	assert.Equal(t, 10, c.TotalQuantity)
}

func TestRequestTransitions(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.adminClient(t)
	faculty := env.newUser(t, "prof1", schema.RoleFaculty)
	student := env.newUser(t, "student1", schema.RoleStudent)

	component, err := admin.createComponent(map[string]interface{}{"name": "LED", "totalQuantity": 100})
	require.NoError(t, err)

	newRequest := func() uuid.UUID {
		request, err := student.createRequest("Blinky", faculty.userId, []requestItemArg{
			{ComponentId: component.Id, Quantity: 1},
		})
		require.NoError(t, err)
		return request.Id
	}

	t.Run("pending cannot be fulfilled", func(t *testing.T) {
		id := newRequest()
		code, _ := admin.Put("/requests/"+id.String()).Json(map[string]string{"status": "FULFILLED"}).DoExpectingError()
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("rejected is terminal", func(t *testing.T) {
		id := newRequest()
		_, err := faculty.updateRequestStatus(id, schema.StatusRejected)
		require.NoError(t, err)

		for _, status := range []string{"APPROVED", "FULFILLED", "REJECTED"} {
			code, _ := admin.Put("/requests/"+id.String()).Json(map[string]string{"status": status}).DoExpectingError()
			assert.Equal(t, http.StatusBadRequest, code)
		}
	})

	t.Run("fulfilled is terminal", func(t *testing.T) {
		id := newRequest()
		_, err := faculty.updateRequestStatus(id, schema.StatusApproved)
		require.NoError(t, err)
		_, err = admin.updateRequestStatus(id, schema.StatusFulfilled)
		require.NoError(t, err)

		before, err := admin.getComponent(component.Id)
		require.NoError(t, err)

		// Repeating the fulfillment must fail and must not decrement again.
		code, _ := admin.Put("/requests/"+id.String()).Json(map[string]string{"status": "FULFILLED"}).DoExpectingError()
		assert.Equal(t, http.StatusBadRequest, code)

		after, err := admin.getComponent(component.Id)
		require.NoError(t, err)
		assert.Equal(t, before.AvailableQuantity, after.AvailableQuantity)
	})

	t.Run("invalid target status", func(t *testing.T) {
		id := newRequest()
		code, _ := admin.Put("/requests/"+id.String()).Json(map[string]string{"status": "PENDING"}).DoExpectingError()
		assert.Equal(t, http.StatusBadRequest, code)

		code, _ = admin.Put("/requests/"+id.String()).Json(map[string]string{"status": "SHIPPED"}).DoExpectingError()
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown request", func(t *testing.T) {
		code, _ := admin.Put("/requests/00000000-0000-0000-0000-000000000001").Json(map[string]string{"status": "APPROVED"}).DoExpectingError()
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestRequestAuthorization(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.adminClient(t)
	target := env.newUser(t, "prof_target", schema.RoleFaculty)
	other := env.newUser(t, "prof_other", schema.RoleFaculty)
	ta := env.newUser(t, "ta1", schema.RoleTA)
	student := env.newUser(t, "student1", schema.RoleStudent)

	component, err := admin.createComponent(map[string]interface{}{"name": "Servo", "totalQuantity": 10})
	require.NoError(t, err)

	newRequest := func() uuid.UUID {
		request, err := student.createRequest("Robot arm", target.userId, []requestItemArg{
			{ComponentId: component.Id, Quantity: 1},
		})
		require.NoError(t, err)
		return request.Id
	}

	t.Run("requester cannot approve own request", func(t *testing.T) {
		id := newRequest()
		code, _ := student.Put("/requests/"+id.String()).Json(map[string]string{"status": "APPROVED"}).DoExpectingError()
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("only the targeted faculty can decide", func(t *testing.T) {
		id := newRequest()
		code, _ := other.Put("/requests/"+id.String()).Json(map[string]string{"status": "APPROVED"}).DoExpectingError()
		assert.Equal(t, http.StatusForbidden, code)

		_, err := target.updateRequestStatus(id, schema.StatusApproved)
		assert.NoError(t, err)
	})

	t.Run("ta can decide on any faculty's behalf", func(t *testing.T) {
		id := newRequest()
		_, err := ta.updateRequestStatus(id, schema.StatusRejected)
		assert.NoError(t, err)
	})

	t.Run("faculty cannot fulfill", func(t *testing.T) {
		id := newRequest()
		_, err := target.updateRequestStatus(id, schema.StatusApproved)
		require.NoError(t, err)

		code, _ := target.Put("/requests/"+id.String()).Json(map[string]string{"status": "FULFILLED"}).DoExpectingError()
		assert.Equal(t, http.StatusForbidden, code)

		_, err = ta.updateRequestStatus(id, schema.StatusFulfilled)
		assert.NoError(t, err)
	})
}

func TestFulfillmentIsAllOrNothing(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.adminClient(t)
	faculty := env.newUser(t, "prof1", schema.RoleFaculty)
	student := env.newUser(t, "student1", schema.RoleStudent)

	plentiful, err := admin.createComponent(map[string]interface{}{"name": "Jumper wires", "totalQuantity": 100})
	require.NoError(t, err)
	scarce, err := admin.createComponent(map[string]interface{}{"name": "Raspberry Pi 5", "totalQuantity": 2})
	require.NoError(t, err)

	request, err := student.createRequest("Cluster project", faculty.userId, []requestItemArg{
		{ComponentId: plentiful.Id, Quantity: 10},
		{ComponentId: scarce.Id, Quantity: 3},
	})
	require.NoError(t, err)

	_, err = faculty.updateRequestStatus(request.Id, schema.StatusApproved)
	require.NoError(t, err)

	code, msg := admin.Put("/requests/"+request.Id.String()).Json(map[string]string{"status": "FULFILLED"}).DoExpectingError()
	require.Equal(t, http.StatusBadRequest, code, msg)

	// Neither component may have been decremented, even though the first
	// item alone could have been satisfied.
	c1, err := admin.getComponent(plentiful.Id)
	require.NoError(t, err)
	assert.Equal(t, 100, c1.AvailableQuantity)

	c2, err := admin.getComponent(scarce.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, c2.AvailableQuantity)

	// And the request stays APPROVED so it can be retried after a restock.
	requests, err := admin.listRequests("status=APPROVED")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, request.Id, requests[0].Id)

	_, err = admin.updateComponent(scarce.Id, map[string]interface{}{"totalQuantity": 5})
	require.NoError(t, err)

	fulfilled, err := admin.updateRequestStatus(request.Id, schema.StatusFulfilled)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusFulfilled, fulfilled.Status)

	c2, err = admin.getComponent(scarce.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, c2.AvailableQuantity)
}

func TestCompetingFulfillments(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.adminClient(t)
	faculty := env.newUser(t, "prof1", schema.RoleFaculty)
	student := env.newUser(t, "student1", schema.RoleStudent)

	component, err := admin.createComponent(map[string]interface{}{"name": "Stepper motor", "totalQuantity": 5})
	require.NoError(t, err)

	approve := func(quantity int) uuid.UUID {
		request, err := student.createRequest(fmt.Sprintf("Project needing %d", quantity), faculty.userId, []requestItemArg{
			{ComponentId: component.Id, Quantity: quantity},
		})
		require.NoError(t, err)
		_, err = faculty.updateRequestStatus(request.Id, schema.StatusApproved)
		require.NoError(t, err)
		return request.Id
	}

	first := approve(4)
	second := approve(4)

	// Both requests were approved against the same stock of 5, only one can win.
	_, err = admin.updateRequestStatus(first, schema.StatusFulfilled)
	require.NoError(t, err)

	code, _ := admin.Put("/requests/"+second.String()).Json(map[string]string{"status": "FULFILLED"}).DoExpectingError()
	assert.Equal(t, http.StatusBadRequest, code)

	c, err := admin.getComponent(component.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, c.AvailableQuantity)
}

func TestCreateRequestValidation(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.adminClient(t)
	faculty := env.newUser(t, "prof1", schema.RoleFaculty)
	student := env.newUser(t, "student1", schema.RoleStudent)

	component, err := admin.createComponent(map[string]interface{}{"name": "Buzzer", "totalQuantity": 10})
	require.NoError(t, err)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing title", map[string]interface{}{
			"targetFacultyId": faculty.userId,
			"items":           []requestItemArg{{ComponentId: component.Id, Quantity: 1}},
		}},
		{"no items", map[string]interface{}{
			"projectTitle": "x", "targetFacultyId": faculty.userId, "items": []requestItemArg{},
		}},
		{"zero quantity", map[string]interface{}{
			"projectTitle": "x", "targetFacultyId": faculty.userId,
			"items": []requestItemArg{{ComponentId: component.Id, Quantity: 0}},
		}},
		{"duplicate component", map[string]interface{}{
			"projectTitle": "x", "targetFacultyId": faculty.userId,
			"items": []requestItemArg{{ComponentId: component.Id, Quantity: 1}, {ComponentId: component.Id, Quantity: 2}},
		}},
		{"unknown component", map[string]interface{}{
			"projectTitle": "x", "targetFacultyId": faculty.userId,
			"items": []requestItemArg{{ComponentId: uuid.New(), Quantity: 1}},
		}},
		{"unknown faculty", map[string]interface{}{
			"projectTitle": "x", "targetFacultyId": uuid.New(),
			"items": []requestItemArg{{ComponentId: component.Id, Quantity: 1}},
		}},
		{"target is not faculty", map[string]interface{}{
			"projectTitle": "x", "targetFacultyId": student.userId,
			"items": []requestItemArg{{ComponentId: component.Id, Quantity: 1}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := student.Post("/requests/").Json(tt.body).DoExpectingError()
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}

	// Nothing should have been persisted by any of the rejected attempts.
	requests, err := admin.listRequests("")
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestListRequestScoping(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.adminClient(t)
	profA := env.newUser(t, "prof_a", schema.RoleFaculty)
	profB := env.newUser(t, "prof_b", schema.RoleFaculty)
	alice := env.newUser(t, "alice", schema.RoleStudent)
	bob := env.newUser(t, "bob", schema.RoleStudent)

	component, err := admin.createComponent(map[string]interface{}{"name": "Breadboard", "totalQuantity": 50})
	require.NoError(t, err)

	items := []requestItemArg{{ComponentId: component.Id, Quantity: 1}}

	_, err = alice.createRequest("Alice project 1", profA.userId, items)
	require.NoError(t, err)
	_, err = alice.createRequest("Alice project 2", profB.userId, items)
	require.NoError(t, err)
	_, err = bob.createRequest("Bob project", profA.userId, items)
	require.NoError(t, err)

	aliceRequests, err := alice.listRequests("")
	require.NoError(t, err)
	require.Len(t, aliceRequests, 2)
	for _, r := range aliceRequests {
		assert.Equal(t, alice.userId, r.UserId)
	}

	// Students cannot widen their view with filters.
	aliceRequests, err = alice.listRequests("userId=" + bob.userId.String())
	require.NoError(t, err)
	require.Len(t, aliceRequests, 2)

	profARequests, err := profA.listRequests("")
	require.NoError(t, err)
	require.Len(t, profARequests, 2)
	for _, r := range profARequests {
		assert.Equal(t, profA.userId, r.TargetFacultyId)
	}

	all, err := admin.listRequests("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bobOnly, err := admin.listRequests("userId=" + bob.userId.String())
	require.NoError(t, err)
	require.Len(t, bobOnly, 1)
	assert.Equal(t, "Bob project", bobOnly[0].ProjectTitle)

	code, _ := admin.Get("/requests/?status=BOGUS").DoExpectingError()
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDeleteRequest(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.adminClient(t)
	faculty := env.newUser(t, "prof1", schema.RoleFaculty)
	alice := env.newUser(t, "alice", schema.RoleStudent)
	bob := env.newUser(t, "bob", schema.RoleStudent)

	component, err := admin.createComponent(map[string]interface{}{"name": "Potentiometer", "totalQuantity": 10})
	require.NoError(t, err)

	items := []requestItemArg{{ComponentId: component.Id, Quantity: 1}}

	newRequest := func() uuid.UUID {
		request, err := alice.createRequest("Dimmer", faculty.userId, items)
		require.NoError(t, err)
		return request.Id
	}

	t.Run("owner can delete pending", func(t *testing.T) {
		id := newRequest()
		require.NoError(t, alice.deleteRequest(id))

		requests, err := alice.listRequests("")
		require.NoError(t, err)
		assert.Empty(t, requests)
	})

	t.Run("other student cannot delete", func(t *testing.T) {
		id := newRequest()
		code, _ := bob.Delete("/requests/" + id.String()).DoExpectingError()
		assert.Equal(t, http.StatusForbidden, code)
		require.NoError(t, alice.deleteRequest(id))
	})

	t.Run("admin can delete pending", func(t *testing.T) {
		id := newRequest()
		require.NoError(t, admin.deleteRequest(id))
	})

	t.Run("non-pending cannot be deleted", func(t *testing.T) {
		id := newRequest()
		_, err := faculty.updateRequestStatus(id, schema.StatusApproved)
		require.NoError(t, err)

		code, _ := alice.Delete("/requests/" + id.String()).DoExpectingError()
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown request returns 404", func(t *testing.T) {
		code, _ := alice.Delete("/requests/" + uuid.New().String()).DoExpectingError()
		assert.Equal(t, http.StatusNotFound, code)
	})
}
