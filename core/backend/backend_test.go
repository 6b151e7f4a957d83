package backend_test

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/succeedex/modelapi/core/backend"
	"github.com/succeedex/modelapi/core/client"
	"github.com/succeedex/modelapi/core/csql"
	"github.com/succeedex/modelapi/core/response"
)

var unitConfigurationJSON = `{
	"entities": [
		{
			"name": "college",
			"fields": [
				{"name": "name", "type": "string", "unique": true},
				{"name": "established_year", "type": "integer"}
			],
			"policy": {
				"read_all": ["public"],
				"read_one": ["public"],
				"create": ["public"],
				"update": ["public"],
				"delete": ["public"]
			}
		}
	]
}`

var readColumns = []string{"id", "name", "established_year", "createdAt", "updatedAt", "createdBy", "updatedBy"}

// newUnitBackend builds a backend against a sqlmock database. Schema
// update is off, so only the registry bootstrap hits the mock.
func newUnitBackend(t *testing.T) (client.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(`CREATE table IF NOT EXISTS unit."_registry_"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config: unitConfigurationJSON,
		DB:     csql.NewClusterWithDB(db, "unit"),
		Router: router,
	})
	return client.NewWithRouter(router), mock
}

// newAuthBackend builds a gated backend against a sqlmock database.
func newAuthBackend(t *testing.T) *mux.Router {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(`CREATE table IF NOT EXISTS unit."_registry_"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config:               unitConfigurationJSON,
		DB:                   csql.NewClusterWithDB(db, "unit"),
		Router:               router,
		AuthorizationEnabled: true,
		JWTSecret:            "unit-secret",
	})
	return router
}

func TestInvalidTokenEnvelope(t *testing.T) {
	router := newAuthBackend(t)

	r := httptest.NewRequest(http.MethodGet, "/api/colleges", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	// a rejected token still answers with the uniform envelope
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var envelope struct {
		Message string      `json:"message"`
		Status  bool        `json:"status"`
		Error   interface{} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.False(t, envelope.Status)
	assert.Equal(t, "authentication required", envelope.Message)
	assert.NotNil(t, envelope.Error)
}

func TestVersionRoleGate(t *testing.T) {
	router := newAuthBackend(t)

	status, _ := client.NewWithRouter(router).RawGet("/version", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// authenticated but without the admin role
	status, _ = client.NewWithRouter(router).WithRole("staff").RawGet("/version", nil)
	assert.Equal(t, http.StatusForbidden, status)

	var result struct {
		Data map[string]string `json:"data"`
	}
	status, err := client.NewWithRouter(router).WithAdminAuthorization().RawGet("/version", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, backend.Version, result.Data["version"])
}

func TestGetNotFound(t *testing.T) {
	c, mock := newUnitBackend(t)

	mock.ExpectQuery(`SELECT (.+) FROM unit."college" WHERE "id" = \$1`).
		WithArgs("ffffffffffffffffffffffff").
		WillReturnRows(sqlmock.NewRows(readColumns))

	status, err := c.Entity("college").Get("ffffffffffffffffffffffff", nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteNotFound(t *testing.T) {
	c, mock := newUnitBackend(t)

	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM unit."college" WHERE "id" = $1 RETURNING "id";`)).
		WithArgs("ffffffffffffffffffffffff").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	status, err := c.Entity("college").Delete("ffffffffffffffffffffffff")
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoundTrip(t *testing.T) {
	c, mock := newUnitBackend(t)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO unit."college"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("0123456789abcdef01234567"))
	mock.ExpectQuery(`SELECT (.+) FROM unit."college" WHERE "id" = \$1`).
		WillReturnRows(sqlmock.NewRows(readColumns).
			AddRow("0123456789abcdef01234567", "MIT", int64(1861), now, now, nil, nil))
	mock.ExpectCommit()

	var result struct {
		Message string                 `json:"message"`
		Status  bool                   `json:"status"`
		Data    map[string]interface{} `json:"data"`
	}
	status, err := c.Entity("college").Create(map[string]interface{}{
		"name": "MIT", "established_year": 1861,
	}, &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, result.Status)
	assert.Equal(t, "record created", result.Message)
	assert.Equal(t, "MIT", result.Data["name"])
	assert.Equal(t, float64(1861), result.Data["established_year"])
	assert.Nil(t, result.Data["createdBy"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayloadValidation(t *testing.T) {
	c, mock := newUnitBackend(t)

	// a type violation never reaches the database
	status, err := c.Entity("college").Create(map[string]interface{}{
		"name": "MIT", "established_year": "old",
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListWithMeta(t *testing.T) {
	c, mock := newUnitBackend(t)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM unit."college"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))
	mock.ExpectQuery(`SELECT (.+) FROM unit."college" ORDER BY "createdAt" ASC LIMIT \$1 OFFSET \$2`).
		WithArgs(50, 50).
		WillReturnRows(sqlmock.NewRows(readColumns).
			AddRow("0123456789abcdef01234567", "MIT", int64(1861), now, now, nil, nil).
			AddRow("0123456789abcdef01234568", "ETH", int64(1855), now, now, nil, nil))

	var result struct {
		Data []map[string]interface{} `json:"data"`
		Meta *response.Meta           `json:"meta"`
	}
	status, err := c.Entity("college").WithParameter("page", "2").List(&result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, result.Data, 2)
	require.NotNil(t, result.Meta)
	assert.Equal(t, 120, result.Meta.TotalRecords)
	assert.Equal(t, 3, result.Meta.TotalPages)
	assert.Equal(t, 2, result.Meta.CurrentPage)
	assert.Equal(t, 50, result.Meta.PageSize)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBumpsTimestampOnEmptyPayload(t *testing.T) {
	c, mock := newUnitBackend(t)

	id := "0123456789abcdef01234567"
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM unit."college" WHERE "id" = $1 FOR UPDATE;`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	mock.ExpectExec(`UPDATE unit."college" SET "updatedAt" = now\(\), "updatedBy" = \$1 WHERE "id" = \$2;`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM unit."college" WHERE "id" = \$1`).
		WillReturnRows(sqlmock.NewRows(readColumns).
			AddRow(id, "MIT", int64(1861), now, now, nil, nil))
	mock.ExpectCommit()

	status, err := c.Entity("college").Update(id, map[string]interface{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnknownQueryParameter(t *testing.T) {
	c, mock := newUnitBackend(t)

	status, err := c.RawGet("/api/colleges?bogus=1", nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomRouteClaimsPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec(`CREATE table IF NOT EXISTS unit."_registry_"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config: unitConfigurationJSON,
		DB:     csql.NewClusterWithDB(db, "unit"),
		Router: router,
		Routes: []backend.RouteRegistrar{
			func(b *backend.Backend) {
				b.HandleRoute("/api/colleges", http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
					response.OK(w, r, "custom list", []string{})
				})
			},
		},
	})

	var result struct {
		Message string `json:"message"`
	}
	c := client.NewWithRouter(router)
	_, err = c.RawGet("/api/colleges", &result)
	require.NoError(t, err)
	assert.Equal(t, "custom list", result.Message)
}
