package test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/succeedex/modelapi/core/backend"
	"github.com/succeedex/modelapi/core/client"
	"github.com/succeedex/modelapi/core/csql"
	"github.com/succeedex/modelapi/core/extensions"
)

const testJWTSecret = "integration-test-secret"
const testJWTIssuer = "modelapi-test"

// sentMail is one captured outbound mail.
type sentMail struct {
	To      string
	Subject string
	Body    string
}

// captureMailer records outbound mail instead of delivering it.
type captureMailer struct {
	mutex sync.Mutex
	mails []sentMail
}

func (m *captureMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.mails = append(m.mails, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) last() (sentMail, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.mails) == 0 {
		return sentMail{}, false
	}
	return m.mails[len(m.mails)-1], true
}

type IntegrationTestSuite struct {
	*backend.Backend
	suite.Suite

	router            *mux.Router
	dbConn            csql.Cluster
	mailer            *captureMailer
	postgresContainer testcontainers.Container
}

var configurationJSON = `{
	"entities": [
		{
			"name": "college",
			"description": "colleges with open read access",
			"fields": [
				{"name": "name", "type": "string", "unique": true},
				{"name": "established_year", "type": "integer"},
				{"name": "accredited", "type": "boolean", "nullable": true},
				{"name": "rating", "type": "float", "nullable": true}
			],
			"policy": {
				"read_all": ["public"],
				"read_one": ["public"],
				"create": ["admin"],
				"update": ["admin"],
				"delete": ["admin"]
			}
		},
		{
			"name": "student",
			"fields": [
				{"name": "first_name", "type": "string"},
				{"name": "last_name", "type": "string"},
				{"name": "age", "type": "integer", "nullable": true},
				{"name": "enrolled_at", "type": "datetime", "nullable": true}
			],
			"policy": {
				"read_all": ["admin", "staff"],
				"read_one": ["admin", "staff"],
				"create": ["admin", "staff"],
				"update": ["admin"],
				"delete": ["admin"]
			}
		},
		{
			"name": "user",
			"fields": [
				{"name": "email", "type": "string", "unique": true},
				{"name": "password", "type": "string", "hidden": true},
				{"name": "role", "type": "string"},
				{"name": "full_name", "type": "string", "nullable": true}
			],
			"policy": {
				"read_all": ["admin"],
				"read_one": ["admin"],
				"create": ["admin"],
				"update": ["admin"],
				"delete": ["admin"]
			}
		}
	]
}`

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.router = mux.NewRouter()
	s.dbConn = csql.OpenCluster(fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresDB), "", postgresPassword, "apitest")
	s.mailer = &captureMailer{}

	bb := backend.Builder{
		Config:               configurationJSON,
		DB:                   s.dbConn,
		Router:               s.router,
		UpdateSchema:         true,
		AuthorizationEnabled: true,
		JWTSecret:            testJWTSecret,
		JWTIssuer:            testJWTIssuer,
		TokenLifetime:        time.Hour,
		UserEntity:           "user",
		Mailer:               s.mailer,
		Routes: []backend.RouteRegistrar{
			extensions.UserAuth{
				UserEntity: "user",
				ResetURL:   "https://placements.example.com/reset-password",
			}.Registrar(),
		},
	}
	s.Backend = backend.New(&bb)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.dbConn.Primary != nil {
		s.dbConn.Primary.ClearSchema()
		s.dbConn.Primary.Close()
	}
	if s.postgresContainer != nil {
		_ = s.postgresContainer.Terminate(context.Background())
	}
}

// adminClient returns an in-process client with admin authorization.
func (s *IntegrationTestSuite) adminClient() client.Client {
	return client.NewWithRouter(s.router).WithAdminAuthorization()
}

// anonymousClient returns an in-process client without credentials.
func (s *IntegrationTestSuite) anonymousClient() client.Client {
	return client.NewWithRouter(s.router)
}
