/*Package extensions contains optional route packages built on top of
the generated entity routes.

UserAuth adds credential handling for a configured user entity: login
with email and password, the caller's own profile, and the two-step
password reset flow.
*/
package extensions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/succeedex/modelapi/core/access"
	"github.com/succeedex/modelapi/core/backend"
	"github.com/succeedex/modelapi/core/csql"
	"github.com/succeedex/modelapi/core/logger"
	"github.com/succeedex/modelapi/core/response"
)

// UserAuth is an extension which adds credential routes for a user
// entity.
//
// Requirements:
// - the user entity must declare the email, password and role fields
// - the password field should be declared hidden, so hashes never
//   appear in responses
//
// Added routes:
// - POST /login - exchanges email and password for a bearer token
// - GET /my-profile - returns the authenticated caller's user record
// - POST /forgot-password - mails a single-use reset token
// - PUT /reset-password - redeems a reset token for a new password
type UserAuth struct {
	// UserEntity is the name of the entity holding the user records.
	UserEntity string
	// EmailField, PasswordField and RoleField override the default
	// field names "email", "password" and "role".
	EmailField    string
	PasswordField string
	RoleField     string
	// ResetTokenLifetime bounds password reset tokens. Defaults to one hour.
	ResetTokenLifetime time.Duration
	// ResetURL is the frontend location minted into reset mails. The
	// token is appended as query parameter.
	ResetURL string
}

const resetRegistryPrefix = "_reset_"

// resetRecord is the registry value behind an outstanding reset token.
type resetRecord struct {
	UserID   string    `json:"userID"`
	ExpireAt time.Time `json:"expireAt"`
}

func (r resetRecord) expired(now time.Time) bool {
	return now.After(r.ExpireAt)
}

// newResetToken mints a random single-use token.
func newResetToken() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

func (u UserAuth) emailField() string {
	if u.EmailField != "" {
		return u.EmailField
	}
	return "email"
}

func (u UserAuth) passwordField() string {
	if u.PasswordField != "" {
		return u.PasswordField
	}
	return "password"
}

func (u UserAuth) roleField() string {
	if u.RoleField != "" {
		return u.RoleField
	}
	return "role"
}

func (u UserAuth) tokenLifetime() time.Duration {
	if u.ResetTokenLifetime > 0 {
		return u.ResetTokenLifetime
	}
	return time.Hour
}

// PasswordHashHandler returns an entity request handler that replaces
// a clear text password field in the payload with its bcrypt hash.
func PasswordHashHandler(field string) func(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
	return func(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
		var payload map[string]interface{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		password, ok := payload[field].(string)
		if !ok {
			return nil, nil
		}
		hash, err := access.HashPassword(password)
		if err != nil {
			return nil, err
		}
		payload[field] = hash
		return json.Marshal(payload)
	}
}

// Registrar returns the route registrar for this extension. Pass it to
// the backend builder's Routes.
func (u UserAuth) Registrar() backend.RouteRegistrar {
	return func(b *backend.Backend) {
		desc, ok := b.Descriptor(u.UserEntity)
		if !ok {
			panic(fmt.Sprintf("user auth: no such entity '%s'", u.UserEntity))
		}
		for _, required := range []string{u.emailField(), u.passwordField(), u.roleField()} {
			if _, ok := desc.Field(required); !ok {
				panic(fmt.Sprintf("user auth: entity '%s' lacks field '%s'", u.UserEntity, required))
			}
		}

		b.HandleEntityRequest(u.UserEntity, PasswordHashHandler(u.passwordField()))

		schema := b.DB().Write().Schema
		credentialsQuery := fmt.Sprintf(`SELECT "id", "%s", "%s" FROM %s."%s" WHERE "%s" = $1;`,
			u.passwordField(), u.roleField(), schema, u.UserEntity, u.emailField())
		passwordUpdate := fmt.Sprintf(`UPDATE %s."%s" SET "%s" = $1, "updatedAt" = now() WHERE "id" = $2;`,
			schema, u.UserEntity, u.passwordField())
		resetRegistry := b.Registry.Accessor(resetRegistryPrefix)

		b.HandleRoute("/login", http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
			rlog := logger.FromContext(r.Context())

			var credentials struct {
				Email    string `json:"email"`
				Password string `json:"password"`
			}
			if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil ||
				credentials.Email == "" || credentials.Password == "" {
				response.Validation(w, r, "email and password are required")
				return
			}

			var id, hash, role string
			err := b.DB().Read().QueryRowContext(r.Context(), credentialsQuery, credentials.Email).
				Scan(&id, &hash, &role)
			if err == csql.ErrNoRows || (err == nil && !access.VerifyPassword(hash, credentials.Password)) {
				response.Unauthenticated(w, r)
				return
			}
			if err != nil {
				rlog.WithError(err).Errorf("Error 4741: cannot execute query `%s`", credentialsQuery)
				response.Unexpected(w, r, "Error 4741")
				return
			}

			token, err := b.IssueToken(id, role)
			if err != nil {
				rlog.WithError(err).Errorln("Error 4742: cannot issue token")
				response.Unexpected(w, r, "Error 4742")
				return
			}
			response.OK(w, r, "login successful", map[string]string{
				"accessToken": token,
				"tokenType":   "bearer",
			})
		})

		b.HandleRoute("/my-profile", http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			rlog := logger.FromContext(r.Context())

			auth := access.AuthorizationFromContext(r.Context())
			if auth == nil || auth.Anonymous {
				response.Unauthenticated(w, r)
				return
			}
			profile, err := b.ReadRecord(r.Context(), u.UserEntity, auth.ID)
			if err == csql.ErrNoRows {
				response.NotFound(w, r, u.UserEntity+" not found")
				return
			}
			if err != nil {
				rlog.WithError(err).Errorln("Error 4743: cannot read profile")
				response.Unexpected(w, r, "Error 4743")
				return
			}
			response.OK(w, r, "record retrieved", profile)
		})

		b.HandleRoute("/forgot-password", http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
			rlog := logger.FromContext(r.Context())

			var request struct {
				Email string `json:"email"`
			}
			if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Email == "" {
				response.Validation(w, r, "email is required")
				return
			}

			var id, hash, role string
			err := b.DB().Read().QueryRowContext(r.Context(), credentialsQuery, request.Email).
				Scan(&id, &hash, &role)
			if err == csql.ErrNoRows {
				// unknown addresses get the same answer as known ones
				response.OK(w, r, "reset mail sent", true)
				return
			}
			if err != nil {
				rlog.WithError(err).Errorf("Error 4744: cannot execute query `%s`", credentialsQuery)
				response.Unexpected(w, r, "Error 4744")
				return
			}

			token, err := newResetToken()
			if err != nil {
				rlog.WithError(err).Errorln("Error 4745: cannot generate reset token")
				response.Unexpected(w, r, "Error 4745")
				return
			}
			record := resetRecord{UserID: id, ExpireAt: time.Now().UTC().Add(u.tokenLifetime())}
			if err := resetRegistry.Write(token, record); err != nil {
				rlog.WithError(err).Errorln("Error 4746: cannot store reset token")
				response.Unexpected(w, r, "Error 4746")
				return
			}

			mailer := b.Mailer()
			if mailer == nil {
				rlog.Errorln("Error 4747: no mailer configured")
				response.Unexpected(w, r, "Error 4747")
				return
			}
			body := fmt.Sprintf("Follow %s?token=%s to reset your password. The link expires in %s.",
				u.ResetURL, token, u.tokenLifetime())
			if err := mailer.Send(r.Context(), request.Email, "Password reset", body); err != nil {
				rlog.WithError(err).Errorln("Error 4748: cannot send reset mail")
				response.Unexpected(w, r, "Error 4748")
				return
			}
			response.OK(w, r, "reset mail sent", true)
		})

		b.HandleRoute("/reset-password", http.MethodPut, func(w http.ResponseWriter, r *http.Request) {
			rlog := logger.FromContext(r.Context())

			var request struct {
				Token    string `json:"token"`
				Password string `json:"password"`
			}
			if err := json.NewDecoder(r.Body).Decode(&request); err != nil ||
				request.Token == "" || request.Password == "" {
				response.Validation(w, r, "token and password are required")
				return
			}

			var record resetRecord
			timestamp, err := resetRegistry.Read(request.Token, &record)
			if err != nil {
				rlog.WithError(err).Errorln("Error 4749: cannot read reset token")
				response.Unexpected(w, r, "Error 4749")
				return
			}
			if timestamp.IsZero() || record.expired(time.Now().UTC()) {
				response.Validation(w, r, "invalid or expired reset token")
				return
			}

			hash, err := access.HashPassword(request.Password)
			if err != nil {
				rlog.WithError(err).Errorln("Error 4750: cannot hash password")
				response.Unexpected(w, r, "Error 4750")
				return
			}
			if _, err := b.DB().Write().ExecContext(r.Context(), passwordUpdate, hash, record.UserID); err != nil {
				rlog.WithError(err).Errorf("Error 4751: cannot execute query `%s`", passwordUpdate)
				response.Unexpected(w, r, "Error 4751")
				return
			}
			// tokens are single-use
			if err := resetRegistry.Delete(request.Token); err != nil {
				rlog.WithError(err).Errorln("Error 4752: cannot delete reset token")
			}

			response.OK(w, r, "password updated", true)
		})
	}
}
