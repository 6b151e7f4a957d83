// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/succeedex/modelapi/core"
	"github.com/succeedex/modelapi/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	c.defaultHeaders[key] = value
	return c
}

// WithToken returns a new client with a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole("admin")
}

// WithRole returns a new client with role authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		ID:   "client_" + role,
		Role: role,
	}
	return c
}

// WithAuthorization returns a new client with a specific authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context the client will use.
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = c.auth.ContextWithAuthorization(ctx)
	}
	return ctx
}

func (c Client) do(method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}
	r, _ := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}

	var err error
	var res *http.Response
	var resBody []byte
	if c.router != nil {
		if c.token != "" {
			r.Header.Add("Authorization", "Bearer "+c.token)
		}
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		if c.token != "" {
			r.Header.Add("Authorization", "Bearer "+c.token)
		}
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, nil, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}
	return res.StatusCode, resBody, nil
}

func (c Client) request(method, path string, body interface{}, result interface{}) (int, error) {
	var err error
	var raw []byte
	if body != nil {
		var ok bool
		raw, ok = body.([]byte)
		if !ok {
			raw, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
	}

	status, resBody, err := c.do(method, path, raw)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	if resBody != nil && result != nil {
		if rawResult, ok := result.(*[]byte); ok {
			*rawResult = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, err
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extended with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.request(http.MethodGet, path, nil, result)
}

// RawPost posts a resource to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.request(http.MethodPost, path, body, result)
}

// RawPut puts a resource to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.request(http.MethodPut, path, body, result)
}

// RawDelete deletes the resource at path. Expects http.StatusOK as response, otherwise
// it will flag an error. Returns the actual http status code.
func (c Client) RawDelete(path string, result interface{}) (int, error) {
	return c.request(http.MethodDelete, path, nil, result)
}

// Entity represents the generated routes of one entity
type Entity struct {
	client     *Client
	resource   string
	parameters []string
}

// Entity returns a new entity client for the given entity name
func (c Client) Entity(name string) Entity {
	return Entity{
		client:   &c,
		resource: core.Plural(name),
	}
}

// WithParameter returns a new entity client with a URL parameter added.
func (e Entity) WithParameter(key string, value string) Entity {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return Entity{
		client:   e.client,
		resource: e.resource,
		// we want a true copy to avoid side effects
		parameters: append(append([]string{}, e.parameters...), parameter),
	}
}

// WithFilters returns a new entity client with a filters parameter
// added. The expression is serialized to JSON.
func (e Entity) WithFilters(expression map[string]interface{}) Entity {
	raw, _ := json.Marshal(expression)
	return e.WithParameter("filters", string(raw))
}

// ListPath returns the created path for the entity list plus optional query strings
func (e Entity) ListPath() string {
	path := "/api/" + e.resource
	if len(e.parameters) > 0 {
		path += "?" + strings.Join(e.parameters, "&")
	}
	return path
}

// ItemPath returns the created path for a single record
func (e Entity) ItemPath(id string) string {
	return "/api/" + e.resource + "/" + id
}

// List retrieves the filtered record page.
//
// The operation corresponds to a GET request on the list route.
func (e Entity) List(result interface{}) (int, error) {
	return e.client.RawGet(e.ListPath(), result)
}

// Create creates a new record.
//
// The operation corresponds to a POST request on the list route.
func (e Entity) Create(body interface{}, result interface{}) (int, error) {
	return e.client.RawPost(e.ListPath(), body, result)
}

// Get retrieves a single record.
func (e Entity) Get(id string, result interface{}) (int, error) {
	path := e.ItemPath(id)
	if len(e.parameters) > 0 {
		path += "?" + strings.Join(e.parameters, "&")
	}
	return e.client.RawGet(path, result)
}

// Update partially updates a record.
//
// The operation corresponds to a PUT request on the item route.
func (e Entity) Update(id string, body interface{}, result interface{}) (int, error) {
	return e.client.RawPut(e.ItemPath(id), body, result)
}

// Delete deletes a record.
func (e Entity) Delete(id string) (int, error) {
	return e.client.RawDelete(e.ItemPath(id), nil)
}
