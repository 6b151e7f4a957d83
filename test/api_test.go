package test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"

	"github.com/succeedex/modelapi/core/client"
	"github.com/succeedex/modelapi/core/response"
)

// envelope mirrors the uniform response body with a raw data part, so
// tests can decode it into the expected shape.
type envelope struct {
	Message string          `json:"message"`
	Status  bool            `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
	Meta    *response.Meta  `json:"meta"`
}

type APITestSuite struct {
	IntegrationTestSuite
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, &APITestSuite{})
}

func (s *APITestSuite) TestHealth() {
	var result envelope
	status, err := s.anonymousClient().RawGet("/health", &result)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.True(result.Status)
}

func (s *APITestSuite) TestCollegeCRUD() {
	admin := s.adminClient().Entity("college")

	var created envelope
	_, err := admin.Create(map[string]interface{}{
		"name":             "Crud College",
		"established_year": 1923,
		"accredited":       true,
	}, &created)
	s.Require().NoError(err)
	s.True(created.Status)
	s.Equal("record created", created.Message)

	var record map[string]interface{}
	s.Require().NoError(json.Unmarshal(created.Data, &record))
	id, ok := record["id"].(string)
	s.Require().True(ok)
	s.Len(id, 24)
	s.Equal("Crud College", record["name"])
	s.Equal(float64(1923), record["established_year"])
	s.NotEmpty(record["createdAt"])
	s.NotEmpty(record["updatedAt"])
	s.Equal("client_admin", record["createdBy"])

	// reads are public for colleges
	var fetched envelope
	_, err = s.anonymousClient().Entity("college").Get(id, &fetched)
	s.Require().NoError(err)
	s.Require().NoError(json.Unmarshal(fetched.Data, &record))
	s.Equal("Crud College", record["name"])

	var updated envelope
	_, err = admin.Update(id, map[string]interface{}{"established_year": 1925}, &updated)
	s.Require().NoError(err)
	s.Require().NoError(json.Unmarshal(updated.Data, &record))
	s.Equal(float64(1925), record["established_year"])
	// untouched fields survive a partial update
	s.Equal("Crud College", record["name"])

	_, err = admin.Delete(id)
	s.Require().NoError(err)

	status, _ := s.anonymousClient().Entity("college").Get(id, nil)
	s.Equal(http.StatusNotFound, status)
}

func (s *APITestSuite) TestListQueries() {
	admin := s.adminClient().Entity("college")
	names := []string{"List Alpha", "List Beta", "List Gamma"}
	years := []int{1900, 1950, 2000}
	for i, name := range names {
		_, err := admin.Create(map[string]interface{}{
			"name":             name,
			"established_year": years[i],
		}, nil)
		s.Require().NoError(err)
	}

	// filter with an operator object
	var listed envelope
	_, err := s.anonymousClient().Entity("college").
		WithFilters(map[string]interface{}{
			"name":             map[string]interface{}{"like": "List %"},
			"established_year": map[string]interface{}{"gte": 1950},
		}).
		WithParameter("sort", "established_year:desc").
		List(&listed)
	s.Require().NoError(err)

	var records []map[string]interface{}
	s.Require().NoError(json.Unmarshal(listed.Data, &records))
	s.Require().Len(records, 2)
	s.Equal("List Gamma", records[0]["name"])
	s.Equal("List Beta", records[1]["name"])
	s.Require().NotNil(listed.Meta)
	s.Equal(2, listed.Meta.TotalRecords)
	s.Equal(1, listed.Meta.TotalPages)

	// pagination meta reflects the filtered total, not the page
	_, err = s.anonymousClient().Entity("college").
		WithFilters(map[string]interface{}{"name": map[string]interface{}{"like": "List %"}}).
		WithParameter("sort", "name:asc").
		WithParameter("page", "2").
		WithParameter("size", "2").
		List(&listed)
	s.Require().NoError(err)
	s.Require().NoError(json.Unmarshal(listed.Data, &records))
	s.Require().Len(records, 1)
	s.Equal("List Gamma", records[0]["name"])
	s.Equal(3, listed.Meta.TotalRecords)
	s.Equal(2, listed.Meta.TotalPages)
	s.Equal(2, listed.Meta.CurrentPage)

	// a single projected field unwraps to its bare value
	var scalars envelope
	_, err = s.anonymousClient().Entity("college").
		WithFilters(map[string]interface{}{"name": map[string]interface{}{"like": "List %"}}).
		WithParameter("fields", "name").
		WithParameter("sort", "name:asc").
		List(&scalars)
	s.Require().NoError(err)
	var values []string
	s.Require().NoError(json.Unmarshal(scalars.Data, &values))
	s.Equal(names, values)
}

func (s *APITestSuite) TestValidationErrors() {
	admin := s.adminClient().Entity("college")

	// missing required field yields a field error list
	status, err := admin.Create(map[string]interface{}{"name": "No Year"}, nil)
	s.Error(err)
	s.Equal(http.StatusUnprocessableEntity, status)

	// unknown payload field is rejected
	status, _ = admin.Create(map[string]interface{}{
		"name": "Bad Field", "established_year": 2000, "bogus": true,
	}, nil)
	s.Equal(http.StatusUnprocessableEntity, status)

	// filter on an unknown field
	status, _ = s.anonymousClient().Entity("college").
		WithFilters(map[string]interface{}{"bogus": "x"}).List(nil)
	s.Equal(http.StatusBadRequest, status)

	// out of range page size
	status, _ = s.anonymousClient().Entity("college").
		WithParameter("size", "1000").List(nil)
	s.Equal(http.StatusBadRequest, status)

	// duplicate value on a unique field
	_, err = admin.Create(map[string]interface{}{
		"name": "Unique College", "established_year": 2001,
	}, nil)
	s.Require().NoError(err)
	status, _ = admin.Create(map[string]interface{}{
		"name": "Unique College", "established_year": 2002,
	}, nil)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestAccessControl() {
	// writes require authentication
	status, _ := s.anonymousClient().Entity("college").Create(map[string]interface{}{
		"name": "Anon College", "established_year": 2000,
	}, nil)
	s.Equal(http.StatusUnauthorized, status)

	// staff cannot write colleges
	staff := client.NewWithRouter(s.router).WithRole("staff")
	status, _ = staff.Entity("college").Create(map[string]interface{}{
		"name": "Staff College", "established_year": 2000,
	}, nil)
	s.Equal(http.StatusForbidden, status)

	// but staff can create students
	var created envelope
	_, err := staff.Entity("student").Create(map[string]interface{}{
		"first_name": "Ada", "last_name": "Lovelace",
	}, &created)
	s.Require().NoError(err)
	s.True(created.Status)

	// students are not public
	status, _ = s.anonymousClient().Entity("student").List(nil)
	s.Equal(http.StatusUnauthorized, status)

	// staff cannot delete students
	var record map[string]interface{}
	s.Require().NoError(json.Unmarshal(created.Data, &record))
	status, _ = staff.Entity("student").Delete(record["id"].(string))
	s.Equal(http.StatusForbidden, status)
}

func (s *APITestSuite) TestUserAuthFlow() {
	admin := s.adminClient()

	var created envelope
	_, err := admin.Entity("user").Create(map[string]interface{}{
		"email":     "flow@example.com",
		"password":  "initial-pass",
		"role":      "staff",
		"full_name": "Flow Tester",
	}, &created)
	s.Require().NoError(err)

	var record map[string]interface{}
	s.Require().NoError(json.Unmarshal(created.Data, &record))
	userID := record["id"].(string)
	// the hidden password field never appears in responses
	s.NotContains(record, "password")

	// wrong password is rejected
	status, _ := s.anonymousClient().RawPost("/login", map[string]string{
		"email": "flow@example.com", "password": "wrong",
	}, nil)
	s.Equal(http.StatusUnauthorized, status)

	var login envelope
	_, err = s.anonymousClient().RawPost("/login", map[string]string{
		"email": "flow@example.com", "password": "initial-pass",
	}, &login)
	s.Require().NoError(err)
	var tokens map[string]string
	s.Require().NoError(json.Unmarshal(login.Data, &tokens))
	s.Equal("bearer", tokens["tokenType"])
	s.NotEmpty(tokens["accessToken"])

	// the bearer token authenticates the profile route
	var profile envelope
	_, err = client.NewWithRouter(s.router).WithToken(tokens["accessToken"]).
		RawGet("/my-profile", &profile)
	s.Require().NoError(err)
	s.Require().NoError(json.Unmarshal(profile.Data, &record))
	s.Equal(userID, record["id"])
	s.Equal("flow@example.com", record["email"])
	s.NotContains(record, "password")

	// profile without credentials
	status, _ = s.anonymousClient().RawGet("/my-profile", nil)
	s.Equal(http.StatusUnauthorized, status)
}

func (s *APITestSuite) TestPasswordReset() {
	admin := s.adminClient()
	_, err := admin.Entity("user").Create(map[string]interface{}{
		"email":    "reset@example.com",
		"password": "old-pass",
		"role":     "staff",
	}, nil)
	s.Require().NoError(err)

	_, err = s.anonymousClient().RawPost("/forgot-password", map[string]string{
		"email": "reset@example.com",
	}, nil)
	s.Require().NoError(err)

	mail, ok := s.mailer.last()
	s.Require().True(ok)
	s.Equal("reset@example.com", mail.To)

	// the reset token is minted into the mailed link
	marker := "token="
	index := strings.Index(mail.Body, marker)
	s.Require().GreaterOrEqual(index, 0)
	token := mail.Body[index+len(marker):]
	token = strings.Fields(token)[0]

	_, err = s.anonymousClient().RawPut("/reset-password", map[string]string{
		"token": token, "password": "new-pass",
	}, nil)
	s.Require().NoError(err)

	// the new password works, the old one does not
	status, _ := s.anonymousClient().RawPost("/login", map[string]string{
		"email": "reset@example.com", "password": "old-pass",
	}, nil)
	s.Equal(http.StatusUnauthorized, status)
	_, err = s.anonymousClient().RawPost("/login", map[string]string{
		"email": "reset@example.com", "password": "new-pass",
	}, nil)
	s.NoError(err)

	// reset tokens are single-use
	status, _ = s.anonymousClient().RawPut("/reset-password", map[string]string{
		"token": token, "password": "again",
	}, nil)
	s.Equal(http.StatusBadRequest, status)

	// unknown addresses do not leak account existence
	var forgot envelope
	_, err = s.anonymousClient().RawPost("/forgot-password", map[string]string{
		"email": "nobody@example.com",
	}, &forgot)
	s.NoError(err)
	s.True(forgot.Status)
}
