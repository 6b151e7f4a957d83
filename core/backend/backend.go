// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/succeedex/modelapi/core"
	"github.com/succeedex/modelapi/core/access"
	"github.com/succeedex/modelapi/core/csql"
	"github.com/succeedex/modelapi/core/descriptor"
	"github.com/succeedex/modelapi/core/logger"
	"github.com/succeedex/modelapi/core/registry"
	"github.com/succeedex/modelapi/core/response"
)

// Backend is the generic rest backend. It generates the five standard
// routes for every configured entity and manages the backing tables.
type Backend struct {
	config               Configuration
	db                   csql.Cluster
	router               *mux.Router
	mailer               core.Mailer
	jwtSecret            string
	jwtIssuer            string
	tokenLifetime        time.Duration
	authorizationEnabled bool
	updateSchema         bool

	entities     map[string]*entity
	interceptors map[string]requestHandler
	claimed      map[string]bool

	// Registry is the JSON object registry for this backend's schema
	Registry registry.Registry
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all entities. This is mandatory.
	Config string
	// DB is a postgres database cluster. This is mandatory.
	DB csql.Cluster
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// UpdateSchema enables database schema update at startup.
	UpdateSchema bool
	// AuthorizationEnabled gates all generated routes with the entity
	// policies. Without it, every request passes as an anonymous caller.
	AuthorizationEnabled bool
	// JWTSecret is the HMAC secret for bearer tokens. Mandatory when
	// authorization is enabled.
	JWTSecret string
	// JWTIssuer is the issuer minted into and required from tokens.
	JWTIssuer string
	// TokenLifetime bounds issued tokens. Defaults to 24 hours.
	TokenLifetime time.Duration
	// UserEntity names the entity whose records authenticate callers.
	// The entity must carry a "role" field. Optional; without it the
	// caller's role is taken from the token claims.
	UserEntity string
	// Mailer delivers outbound mail for route extensions. Optional.
	Mailer core.Mailer
	// Routes are custom route registrars. They run after the entity
	// tables are created but before the generated routes are attached,
	// so a custom route can claim a path ahead of its generated
	// counterpart.
	Routes []RouteRegistrar
}

// RouteRegistrar adds custom routes to a backend under construction.
type RouteRegistrar func(b *Backend)

// New realizes the actual backend. It creates the sql tables (if they
// do not exist) and adds the generated routes to the router.
func New(bb *Builder) *Backend {

	var config Configuration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}

	if bb.DB.Primary == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.AuthorizationEnabled && bb.JWTSecret == "" {
		panic("authorization is enabled but JWTSecret is missing")
	}

	tokenLifetime := bb.TokenLifetime
	if tokenLifetime == 0 {
		tokenLifetime = 24 * time.Hour
	}

	b := &Backend{
		config:               config,
		db:                   bb.DB,
		router:               bb.Router,
		mailer:               bb.Mailer,
		jwtSecret:            bb.JWTSecret,
		jwtIssuer:            bb.JWTIssuer,
		tokenLifetime:        tokenLifetime,
		authorizationEnabled: bb.AuthorizationEnabled,
		updateSchema:         bb.UpdateSchema,
		entities:             make(map[string]*entity),
		interceptors:         make(map[string]requestHandler),
		claimed:              make(map[string]bool),
		Registry:             registry.New(bb.DB),
	}

	logger.AddRequestID(b.router)
	b.handleCompression()

	if bb.AuthorizationEnabled {
		b.router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
			Secret:  bb.JWTSecret,
			Issuer:  bb.JWTIssuer,
			Resolve: b.resolver(bb.UserEntity),
		}))
	}

	b.handleHealth()
	b.handleVersion()

	rlog := logger.Default()
	rlog.Debugln("backend: handle entity routes")
	for _, rc := range b.config.Entities {
		if err := validatePolicy(rc.Name, rc.Policy); err != nil {
			panic(err)
		}
		b.createEntityResource(rc)
	}
	for _, registrar := range bb.Routes {
		registrar(b)
	}
	for _, rc := range b.config.Entities {
		b.attachEntityRoutes(b.entities[rc.Name])
	}
	return b
}

// resolver builds the token subject lookup against the user entity.
// With no user entity configured, subjects resolve from claims alone.
func (b *Backend) resolver(userEntity string) access.Resolver {
	if userEntity == "" {
		return nil
	}
	found := false
	for _, rc := range b.config.Entities {
		if rc.Name == userEntity {
			found = true
		}
	}
	if !found {
		panic(fmt.Sprintf("user entity '%s' is not a configured entity", userEntity))
	}
	roleQuery := fmt.Sprintf(`SELECT "role" FROM %s."%s" WHERE "id" = $1;`,
		b.db.Write().Schema, userEntity)
	return func(ctx context.Context, subject string) (*access.Authorization, error) {
		var role string
		err := b.db.Read().QueryRowContext(ctx, roleQuery, subject).Scan(&role)
		if err == csql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &access.Authorization{ID: subject, Role: role}, nil
	}
}

// HandleRoute registers a custom route ahead of the generated ones.
// Claiming the same path and method twice is a configuration error and
// panics at startup.
func (b *Backend) HandleRoute(path, method string, handler http.HandlerFunc) {
	claim := method + " " + path
	if b.claimed[claim] {
		panic(fmt.Sprintf("route %s already claimed", claim))
	}
	b.claimed[claim] = true
	logger.Default().Debugln("  handle custom route:", path, method)
	b.router.HandleFunc(path, handler).Methods(http.MethodOptions, method)
}

// Descriptor returns the descriptor of a configured entity.
func (b *Backend) Descriptor(name string) (*descriptor.Descriptor, bool) {
	e, ok := b.entities[name]
	if !ok {
		return nil, false
	}
	return e.descriptor, true
}

// ReadRecord reads one record of an entity directly from the database,
// bypassing the route policies. Returns csql.ErrNoRows when the record
// does not exist.
func (b *Backend) ReadRecord(ctx context.Context, entity, id string) (map[string]interface{}, error) {
	e, ok := b.entities[entity]
	if !ok {
		return nil, fmt.Errorf("no such entity '%s'", entity)
	}
	return e.readRecord(ctx, id)
}

// DB returns the backend's database cluster.
func (b *Backend) DB() csql.Cluster {
	return b.db
}

// Mailer returns the configured mailer, or nil.
func (b *Backend) Mailer() core.Mailer {
	return b.mailer
}

// AuthorizationEnabled reports whether routes are gated.
func (b *Backend) AuthorizationEnabled() bool {
	return b.authorizationEnabled
}

// IssueToken mints a bearer token for the given user record.
func (b *Backend) IssueToken(userID, role string) (string, error) {
	return access.NewToken(b.jwtSecret, b.jwtIssuer, userID, role, b.tokenLifetime)
}

// authorize gates an operation of an entity. It writes the error
// response itself and returns nil when the request must not proceed.
func (b *Backend) authorize(w http.ResponseWriter, r *http.Request, e *entity, operation core.Operation) *access.Authorization {
	if !b.authorizationEnabled {
		return access.Anonymous()
	}
	auth, err := access.Authorize(operation, e.policy, access.AuthorizationFromContext(r.Context()))
	if err == access.ErrUnauthenticated {
		response.Unauthenticated(w, r)
		return nil
	}
	if err != nil {
		response.Forbidden(w, r)
		return nil
	}
	return auth
}

// handleCompression compresses responses for clients that accept it.
func (b *Backend) handleCompression() {
	b.router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlers.CompressHandler(h).ServeHTTP(w, r)
		})
	})
}

// handleHealth adds the public liveness route.
func (b *Backend) handleHealth() {
	logger.Default().Debugln("  handle health route: /health GET")
	b.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		err := b.db.Read().PingContext(r.Context())
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("Error 4711: database unreachable")
			response.Unexpected(w, r, "Error 4711")
			return
		}
		response.OK(w, r, "service is healthy", map[string]string{"status": "up"})
	}).Methods(http.MethodOptions, http.MethodGet)
}
