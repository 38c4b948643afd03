package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"labstock/stockroom/schema"
	"labstock/stockroom/services"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) send() *httptest.ResponseRecorder {
	if r.json != nil {
		body := new(bytes.Buffer)
		if err := json.NewEncoder(body).Encode(r.json); err != nil {
			panic(fmt.Sprintf("error encoding json body for endpoint %v: %v", r.endpoint, err))
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	w := httptest.NewRecorder()
	r.api.ServeHTTP(w, req)
	return w
}

var ErrUnauthorized = errors.New("unauthorized")

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	w := r.send()
	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		if res.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		if err := json.NewDecoder(res.Body).Decode(result); err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

// DoExpectingError returns the status code and the message from the error
// body, used for exercising failure paths.
func (r *httpTestRequest) DoExpectingError() (int, string) {
	w := r.send()
	res := w.Result()
	defer res.Body.Close()

	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(res.Body).Decode(&body)

	return res.StatusCode, body.Error
}

type client struct {
	api       chi.Router
	authToken string
	userId    uuid.UUID
}

func (c *client) Get(endpoint string) *httpTestRequest {
	return c.request("GET", endpoint)
}

func (c *client) Post(endpoint string) *httpTestRequest {
	return c.request("POST", endpoint)
}

func (c *client) Put(endpoint string) *httpTestRequest {
	return c.request("PUT", endpoint)
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	return c.request("DELETE", endpoint)
}

func (c *client) request(method, endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, method, endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

type loginInfo struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResult struct {
	User  services.UserInfo `json:"user"`
	Token string            `json:"token"`
}

func (c *client) register(name, email, password string) (loginInfo, error) {
	body := map[string]string{"name": name, "email": email, "password": password}

	var res loginResult
	if err := c.Post("/auth/register").Json(body).Do(&res); err != nil {
		return loginInfo{}, err
	}

	c.authToken = res.Token
	c.userId = res.User.Id

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) login(login loginInfo) error {
	var res loginResult
	if err := c.Post("/auth/login").Json(login).Do(&res); err != nil {
		return err
	}

	c.authToken = res.Token
	c.userId = res.User.Id

	return nil
}

func (c *client) me() (services.UserInfo, error) {
	var res struct {
		User services.UserInfo `json:"user"`
	}
	err := c.Get("/auth/me").Do(&res)
	return res.User, err
}

func (c *client) listUsers() ([]services.UserInfo, error) {
	var res struct {
		Users []services.UserInfo `json:"users"`
	}
	err := c.Get("/users/").Do(&res)
	return res.Users, err
}

func (c *client) setRole(userId uuid.UUID, role schema.Role) error {
	body := map[string]schema.Role{"role": role}
	return c.Put(fmt.Sprintf("/users/%v/role", userId)).Json(body).Do(nil)
}

func (c *client) listFaculty() ([]services.UserInfo, error) {
	var res struct {
		Faculty []services.UserInfo `json:"faculty"`
	}
	err := c.Get("/faculty/").Do(&res)
	return res.Faculty, err
}

func (c *client) createComponent(body map[string]interface{}) (services.ComponentInfo, error) {
	var res struct {
		Component services.ComponentInfo `json:"component"`
	}
	err := c.Post("/components/").Json(body).Do(&res)
	return res.Component, err
}

func (c *client) getComponent(id uuid.UUID) (services.ComponentInfo, error) {
	var res struct {
		Component services.ComponentInfo `json:"component"`
	}
	err := c.Get(fmt.Sprintf("/components/%v", id)).Do(&res)
	return res.Component, err
}

func (c *client) listComponents() ([]services.ComponentInfo, error) {
	var res struct {
		Components []services.ComponentInfo `json:"components"`
	}
	err := c.Get("/components/").Do(&res)
	return res.Components, err
}

func (c *client) updateComponent(id uuid.UUID, body map[string]interface{}) (services.ComponentInfo, error) {
	var res struct {
		Component services.ComponentInfo `json:"component"`
	}
	err := c.Put(fmt.Sprintf("/components/%v", id)).Json(body).Do(&res)
	return res.Component, err
}

func (c *client) deleteComponent(id uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/components/%v", id)).Do(nil)
}

type requestItemArg struct {
	ComponentId uuid.UUID `json:"componentId"`
	Quantity    int       `json:"quantity"`
}

func (c *client) createRequest(projectTitle string, targetFacultyId uuid.UUID, items []requestItemArg) (services.RequestInfo, error) {
	body := map[string]interface{}{
		"projectTitle":    projectTitle,
		"targetFacultyId": targetFacultyId,
		"items":           items,
	}

	var res struct {
		Request services.RequestInfo `json:"request"`
	}
	err := c.Post("/requests/").Json(body).Do(&res)
	return res.Request, err
}

func (c *client) listRequests(query string) ([]services.RequestInfo, error) {
	endpoint := "/requests/"
	if query != "" {
		endpoint += "?" + query
	}

	var res struct {
		Requests []services.RequestInfo `json:"requests"`
	}
	err := c.Get(endpoint).Do(&res)
	return res.Requests, err
}

func (c *client) updateRequestStatus(id uuid.UUID, status schema.RequestStatus) (services.RequestInfo, error) {
	body := map[string]schema.RequestStatus{"status": status}

	var res struct {
		Request services.RequestInfo `json:"request"`
	}
	err := c.Put(fmt.Sprintf("/requests/%v", id)).Json(body).Do(&res)
	return res.Request, err
}

func (c *client) deleteRequest(id uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/requests/%v", id)).Do(nil)
}
