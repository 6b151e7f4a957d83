// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/lib/pq"

	"github.com/gorilla/mux"

	"github.com/succeedex/modelapi/core"
	"github.com/succeedex/modelapi/core/access"
	"github.com/succeedex/modelapi/core/csql"
	"github.com/succeedex/modelapi/core/descriptor"
	"github.com/succeedex/modelapi/core/filter"
	"github.com/succeedex/modelapi/core/logger"
	"github.com/succeedex/modelapi/core/response"
	"github.com/succeedex/modelapi/core/schema"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// entity is one configured entity with its generated handlers.
type entity struct {
	descriptor *descriptor.Descriptor
	policy     access.Policy
	validator  *schema.Validator

	list   http.HandlerFunc
	getOne http.HandlerFunc
	create http.HandlerFunc
	update http.HandlerFunc
	delete http.HandlerFunc

	readRecord func(ctx context.Context, id string) (map[string]interface{}, error)
}

// returns $1,...,$n
func parameterString(n int) string {
	result := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			result += ","
		}
		result += "$" + strconv.Itoa(i+1)
	}
	return result
}

func sqlType(t descriptor.FieldType) string {
	switch t {
	case descriptor.TypeInteger:
		return "bigint"
	case descriptor.TypeBoolean:
		return "boolean"
	case descriptor.TypeDatetime:
		return "timestamp"
	case descriptor.TypeFloat:
		return "double precision"
	default:
		return "varchar"
	}
}

// driverValue converts a validated JSON payload value into a driver
// value for the field.
func driverValue(field descriptor.Field, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	switch field.Type {
	case descriptor.TypeInteger:
		if f, ok := value.(float64); ok {
			return int64(f)
		}
	case descriptor.TypeDatetime:
		if s, ok := value.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC()
			}
		}
	}
	return value
}

func (b *Backend) createEntityResource(rc entityConfiguration) {
	schemaName := b.db.Write().Schema

	desc, err := descriptor.Describe(rc.Definition)
	if err != nil {
		logger.Default().WithError(err).Errorln("invalid entity definition")
		panic("invalid configuration")
	}
	validator, err := schema.NewValidator(desc)
	if err != nil {
		panic(err)
	}

	this := desc.Name
	nillog := logger.Default()
	nillog.Debugln("create entity:", this)
	if desc.Description != "" {
		nillog.Debugln("  description:", desc.Description)
	}

	createQuery := fmt.Sprintf("CREATE table IF NOT EXISTS %s.\"%s\"", schemaName, this)
	createColumns := []string{`"id" varchar(24) NOT NULL PRIMARY KEY`}
	createPropertiesQuery := ""
	createIndicesQuery := fmt.Sprintf("CREATE index IF NOT EXISTS %s ON %s.\"%s\"(\"createdAt\");",
		"sort_index_"+this+"_created_at", schemaName, this)

	for _, field := range desc.Fields() {
		createColumn := fmt.Sprintf("\"%s\" %s", field.Name, sqlType(field.Type))
		if !field.Nullable {
			createColumn += " NOT NULL"
		}
		createColumns = append(createColumns, createColumn)
		// columns added after the initial table creation
		createPropertiesQuery += fmt.Sprintf("ALTER TABLE %s.\"%s\" ADD COLUMN IF NOT EXISTS %s;",
			schemaName, this, createColumn)
		if field.Unique {
			createIndicesQuery += fmt.Sprintf("CREATE UNIQUE index IF NOT EXISTS %s ON %s.\"%s\"(\"%s\");",
				"unique_index_"+this+"_"+field.Name, schemaName, this, field.Name)
		}
	}

	createColumns = append(createColumns,
		`"createdAt" timestamp NOT NULL DEFAULT now()`,
		`"updatedAt" timestamp NOT NULL DEFAULT now()`,
		`"createdBy" varchar(24)`,
		`"updatedBy" varchar(24)`,
	)
	createQuery += "(" + strings.Join(createColumns, ", ") + ");" + createPropertiesQuery + createIndicesQuery

	if b.updateSchema {
		_, err := b.db.Write().Exec(createQuery)
		if err != nil {
			nillog.WithError(err).Errorf("Error while updating schema when running: %s", createQuery)
			panic(fmt.Sprintf("invalid configuration updating: err: %v", err))
		}
	}

	responsive := desc.Responsive()
	readColumns := make([]string, len(responsive))
	for i, field := range responsive {
		readColumns[i] = "\"" + field.Name + "\""
	}

	readQuery := "SELECT " + strings.Join(readColumns, ", ") + fmt.Sprintf(" FROM %s.\"%s\" ", schemaName, this)
	readQueryOne := readQuery + "WHERE \"id\" = $1;"
	countQuery := fmt.Sprintf("SELECT count(*) FROM %s.\"%s\" ", schemaName, this)

	insertColumns := []string{"\"id\""}
	for _, field := range desc.Creatable() {
		insertColumns = append(insertColumns, "\""+field.Name+"\"")
	}
	insertColumns = append(insertColumns, "\"createdBy\"", "\"updatedBy\"")
	insertQuery := fmt.Sprintf("INSERT INTO %s.\"%s\" ", schemaName, this) +
		"(" + strings.Join(insertColumns, ", ") + ")" +
		"VALUES(" + parameterString(len(insertColumns)) + ") RETURNING \"id\";"

	updateQuery := fmt.Sprintf("UPDATE %s.\"%s\" SET ", schemaName, this)
	lockQuery := fmt.Sprintf("SELECT \"id\" FROM %s.\"%s\" WHERE \"id\" = $1 FOR UPDATE;", schemaName, this)
	deleteQuery := fmt.Sprintf("DELETE FROM %s.\"%s\" WHERE \"id\" = $1 RETURNING \"id\";", schemaName, this)

	// scan targets for one row of the read queries, all nullable so
	// both value and SQL null scan cleanly
	createScanValues := func() []interface{} {
		values := make([]interface{}, len(responsive))
		for i, field := range responsive {
			switch field.Type {
			case descriptor.TypeInteger:
				values[i] = &sql.NullInt64{}
			case descriptor.TypeBoolean:
				values[i] = &sql.NullBool{}
			case descriptor.TypeFloat:
				values[i] = &sql.NullFloat64{}
			case descriptor.TypeDatetime:
				values[i] = &sql.NullTime{}
			default:
				values[i] = &sql.NullString{}
			}
		}
		return values
	}

	objectFromScanValues := func(values []interface{}) map[string]interface{} {
		object := make(map[string]interface{}, len(values))
		for i, field := range responsive {
			switch value := values[i].(type) {
			case *sql.NullInt64:
				if value.Valid {
					object[field.Name] = value.Int64
				} else {
					object[field.Name] = nil
				}
			case *sql.NullBool:
				if value.Valid {
					object[field.Name] = value.Bool
				} else {
					object[field.Name] = nil
				}
			case *sql.NullFloat64:
				if value.Valid {
					object[field.Name] = value.Float64
				} else {
					object[field.Name] = nil
				}
			case *sql.NullTime:
				if value.Valid {
					object[field.Name] = value.Time.UTC()
				} else {
					object[field.Name] = nil
				}
			case *sql.NullString:
				if value.Valid {
					object[field.Name] = value.String
				} else {
					object[field.Name] = nil
				}
			}
		}
		return object
	}

	// project trims an object to the requested fields. A single
	// requested field unwraps to its bare value.
	project := func(object map[string]interface{}, fields []string) interface{} {
		if len(fields) == 0 {
			return object
		}
		if len(fields) == 1 {
			return object[fields[0]]
		}
		trimmed := make(map[string]interface{}, len(fields))
		for _, field := range fields {
			trimmed[field] = object[field]
		}
		return trimmed
	}

	parseProjection := func(value string) ([]string, error) {
		var fields []string
		for _, field := range strings.Split(value, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			if !desc.Selectable(field) {
				return nil, fmt.Errorf("unknown field '%s' in fields", field)
			}
			fields = append(fields, field)
		}
		// a fields parameter that names nothing never falls back to the
		// full record
		if len(fields) == 0 {
			return nil, fmt.Errorf("fields must name at least one field")
		}
		return fields, nil
	}

	e := &entity{
		descriptor: desc,
		policy:     rc.Policy,
		validator:  validator,
	}
	e.readRecord = func(ctx context.Context, id string) (map[string]interface{}, error) {
		values := createScanValues()
		if err := b.db.Read().QueryRowContext(ctx, readQueryOne, id).Scan(values...); err != nil {
			return nil, err
		}
		return objectFromScanValues(values), nil
	}
	b.entities[this] = e

	listRoute := "/api/" + desc.Resource
	itemRoute := listRoute + "/{id}"
	nillog.Debugln("  handle entity routes:", listRoute, "GET,POST")
	nillog.Debugln("  handle entity routes:", itemRoute, "GET,PUT,DELETE")

	e.list = func(w http.ResponseWriter, r *http.Request) {
		auth := b.authorize(w, r, e, core.OperationReadAll)
		if auth == nil {
			return
		}
		rlog := logger.FromContext(r.Context())

		var (
			filterExpression map[string]interface{}
			projection       []string
			sortField        = descriptor.SystemCreatedAt
			sortDirection    = "ASC"
			page             = 1
			pageSize         = defaultPageSize
			err              error
		)
		for key, array := range r.URL.Query() {
			if len(array) > 1 {
				response.Validation(w, r, "illegal parameter array '"+key+"'")
				return
			}
			value := array[0]
			switch key {
			case "filters":
				if err = json.Unmarshal([]byte(value), &filterExpression); err != nil {
					response.Validation(w, r, "filters must be a json object")
					return
				}
			case "sort":
				field, direction := value, "asc"
				if i := strings.IndexRune(value, ':'); i >= 0 {
					field, direction = value[:i], value[i+1:]
				}
				if !desc.Selectable(field) {
					response.Validation(w, r, "unknown field '"+field+"' in sort")
					return
				}
				switch direction {
				case "asc":
					sortDirection = "ASC"
				case "desc":
					sortDirection = "DESC"
				default:
					response.Validation(w, r, "sort direction must be asc or desc")
					return
				}
				sortField = field
			case "fields":
				if projection, err = parseProjection(value); err != nil {
					response.Validation(w, r, err.Error())
					return
				}
			case "page":
				if page, err = strconv.Atoi(value); err != nil || page < 1 {
					response.Validation(w, r, "page must be a positive integer")
					return
				}
			case "size":
				if pageSize, err = strconv.Atoi(value); err != nil || pageSize < 1 || pageSize > maxPageSize {
					response.Validation(w, r, fmt.Sprintf("size must be between 1 and %d", maxPageSize))
					return
				}
			default:
				response.Validation(w, r, "unknown query parameter '"+key+"'")
				return
			}
		}

		predicate, err := filter.Compile(desc, filterExpression, 1)
		if err != nil {
			response.Validation(w, r, err.Error())
			return
		}
		sqlWhere := ""
		queryParameters := []interface{}{}
		if predicate != nil {
			sqlWhere = "WHERE " + predicate.SQL + " "
			queryParameters = predicate.Args
		}

		var totalRecords int
		err = b.db.Read().QueryRowContext(r.Context(), countQuery+sqlWhere, queryParameters...).Scan(&totalRecords)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4721: cannot execute count query `%s`", countQuery+sqlWhere)
			response.Unexpected(w, r, "Error 4721")
			return
		}

		sqlQuery := readQuery + sqlWhere +
			fmt.Sprintf("ORDER BY \"%s\" %s LIMIT $%d OFFSET $%d;",
				sortField, sortDirection, len(queryParameters)+1, len(queryParameters)+2)
		queryParameters = append(queryParameters, pageSize, (page-1)*pageSize)

		rows, err := b.db.Read().QueryContext(r.Context(), sqlQuery, queryParameters...)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4722: cannot execute query `%s`", sqlQuery)
			response.Unexpected(w, r, "Error 4722")
			return
		}
		defer rows.Close()

		records := []interface{}{}
		for rows.Next() {
			values := createScanValues()
			if err := rows.Scan(values...); err != nil {
				rlog.WithError(err).Errorln("Error 4723: cannot scan row")
				response.Unexpected(w, r, "Error 4723")
				return
			}
			records = append(records, project(objectFromScanValues(values), projection))
		}
		if err := rows.Err(); err != nil {
			rlog.WithError(err).Errorln("Error 4723: cannot scan row")
			response.Unexpected(w, r, "Error 4723")
			return
		}

		response.List(w, r, "records retrieved", records, response.NewMeta(totalRecords, page, pageSize))
	}

	e.getOne = func(w http.ResponseWriter, r *http.Request) {
		auth := b.authorize(w, r, e, core.OperationReadOne)
		if auth == nil {
			return
		}
		rlog := logger.FromContext(r.Context())
		id := mux.Vars(r)["id"]

		var projection []string
		var err error
		if value := r.URL.Query().Get("fields"); value != "" {
			if projection, err = parseProjection(value); err != nil {
				response.Validation(w, r, err.Error())
				return
			}
		}

		values := createScanValues()
		err = b.db.Read().QueryRowContext(r.Context(), readQueryOne, id).Scan(values...)
		if err == csql.ErrNoRows {
			response.NotFound(w, r, this+" not found")
			return
		}
		if err != nil {
			rlog.WithError(err).Errorf("Error 4727: cannot execute query `%s`", readQueryOne)
			response.Unexpected(w, r, "Error 4727")
			return
		}

		response.OK(w, r, "record retrieved", project(objectFromScanValues(values), projection))
	}

	e.create = func(w http.ResponseWriter, r *http.Request) {
		auth := b.authorize(w, r, e, core.OperationCreate)
		if auth == nil {
			return
		}
		rlog := logger.FromContext(r.Context())

		body, err := io.ReadAll(r.Body)
		if err != nil {
			response.Validation(w, r, "cannot read request body")
			return
		}
		if fieldErrors := e.validator.ValidateCreate(body); fieldErrors != nil {
			response.FieldErrors(w, r, "payload validation failed", fieldErrors)
			return
		}
		patched, err := b.intercept(r.Context(), this, core.OperationCreate, "", body)
		if err != nil {
			response.Validation(w, r, err.Error())
			return
		}
		if patched != nil {
			body = patched
		}

		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			response.Validation(w, r, "invalid json payload")
			return
		}

		id := descriptor.NewID()
		values := []interface{}{id}
		for _, field := range desc.Creatable() {
			values = append(values, driverValue(field, payload[field.Name]))
		}
		var identity interface{}
		if !auth.Anonymous {
			identity = auth.ID
		}
		values = append(values, identity, identity)

		tx, err := b.db.Write().BeginTx(r.Context(), nil)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4724: cannot begin transaction")
			response.Unexpected(w, r, "Error 4724")
			return
		}

		err = tx.QueryRow(insertQuery, values...).Scan(&id)
		if err != nil {
			tx.Rollback()
			if constraint, message := constraintViolation(err); constraint {
				rlog.WithError(err).Infof("Constraint violation: QueryRow query: `%s`", insertQuery)
				response.Conflict(w, r, message)
				return
			}
			rlog.WithError(err).Errorf("Error 4734: QueryRow query: `%s`", insertQuery)
			response.Unexpected(w, r, "Error 4734")
			return
		}

		readBack := createScanValues()
		if err := tx.QueryRow(readQueryOne, id).Scan(readBack...); err != nil {
			tx.Rollback()
			rlog.WithError(err).Errorln("Error 4725: cannot read back created record")
			response.Unexpected(w, r, "Error 4725")
			return
		}
		if err := tx.Commit(); err != nil {
			rlog.WithError(err).Errorln("Error 4726: cannot commit transaction")
			response.Unexpected(w, r, "Error 4726")
			return
		}

		response.OK(w, r, "record created", objectFromScanValues(readBack))
	}

	e.update = func(w http.ResponseWriter, r *http.Request) {
		auth := b.authorize(w, r, e, core.OperationUpdate)
		if auth == nil {
			return
		}
		rlog := logger.FromContext(r.Context())
		id := mux.Vars(r)["id"]

		body, err := io.ReadAll(r.Body)
		if err != nil {
			response.Validation(w, r, "cannot read request body")
			return
		}
		if fieldErrors := e.validator.ValidateUpdate(body); fieldErrors != nil {
			response.FieldErrors(w, r, "payload validation failed", fieldErrors)
			return
		}
		patched, err := b.intercept(r.Context(), this, core.OperationUpdate, id, body)
		if err != nil {
			response.Validation(w, r, err.Error())
			return
		}
		if patched != nil {
			body = patched
		}

		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			response.Validation(w, r, "invalid json payload")
			return
		}

		tx, err := b.db.Write().BeginTx(r.Context(), nil)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4728: cannot begin transaction")
			response.Unexpected(w, r, "Error 4728")
			return
		}

		var lockedID string
		err = tx.QueryRow(lockQuery, id).Scan(&lockedID)
		if err == csql.ErrNoRows {
			tx.Rollback()
			response.NotFound(w, r, this+" not found")
			return
		}
		if err != nil {
			tx.Rollback()
			rlog.WithError(err).Errorf("Error 4729: cannot execute query `%s`", lockQuery)
			response.Unexpected(w, r, "Error 4729")
			return
		}

		// only the fields present in the payload are written; a payload
		// without any fields still bumps the update timestamp
		sets := []string{}
		queryParameters := []interface{}{}
		for _, field := range desc.Updatable() {
			value, ok := payload[field.Name]
			if !ok {
				continue
			}
			queryParameters = append(queryParameters, driverValue(field, value))
			sets = append(sets, fmt.Sprintf("\"%s\" = $%d", field.Name, len(queryParameters)))
		}
		var identity interface{}
		if !auth.Anonymous {
			identity = auth.ID
		}
		queryParameters = append(queryParameters, identity)
		sets = append(sets, "\"updatedAt\" = now()", fmt.Sprintf("\"updatedBy\" = $%d", len(queryParameters)))
		queryParameters = append(queryParameters, id)
		sqlQuery := updateQuery + strings.Join(sets, ", ") +
			fmt.Sprintf(" WHERE \"id\" = $%d;", len(queryParameters))

		if _, err := tx.Exec(sqlQuery, queryParameters...); err != nil {
			tx.Rollback()
			if constraint, message := constraintViolation(err); constraint {
				rlog.WithError(err).Infof("Constraint violation: Exec query: `%s`", sqlQuery)
				response.Conflict(w, r, message)
				return
			}
			rlog.WithError(err).Errorf("Error 4730: Exec query: `%s`", sqlQuery)
			response.Unexpected(w, r, "Error 4730")
			return
		}

		readBack := createScanValues()
		if err := tx.QueryRow(readQueryOne, id).Scan(readBack...); err != nil {
			tx.Rollback()
			rlog.WithError(err).Errorln("Error 4731: cannot read back updated record")
			response.Unexpected(w, r, "Error 4731")
			return
		}
		if err := tx.Commit(); err != nil {
			rlog.WithError(err).Errorln("Error 4732: cannot commit transaction")
			response.Unexpected(w, r, "Error 4732")
			return
		}

		response.OK(w, r, "record updated", objectFromScanValues(readBack))
	}

	e.delete = func(w http.ResponseWriter, r *http.Request) {
		auth := b.authorize(w, r, e, core.OperationDelete)
		if auth == nil {
			return
		}
		rlog := logger.FromContext(r.Context())
		id := mux.Vars(r)["id"]

		if _, err := b.intercept(r.Context(), this, core.OperationDelete, id, nil); err != nil {
			response.Validation(w, r, err.Error())
			return
		}

		var deletedID string
		err := b.db.Write().QueryRowContext(r.Context(), deleteQuery, id).Scan(&deletedID)
		if err == csql.ErrNoRows {
			response.NotFound(w, r, this+" not found")
			return
		}
		if err != nil {
			if constraint, message := constraintViolation(err); constraint {
				rlog.WithError(err).Infof("Constraint violation: QueryRow query: `%s`", deleteQuery)
				response.Conflict(w, r, message)
				return
			}
			rlog.WithError(err).Errorf("Error 4733: QueryRow query: `%s`", deleteQuery)
			response.Unexpected(w, r, "Error 4733")
			return
		}

		response.OK(w, r, "record deleted", true)
	}
}

// constraintViolation classifies postgres constraint errors into the
// client-facing conflict messages.
func constraintViolation(err error) (bool, string) {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false, ""
	}
	switch pqErr.Code {
	case "23505":
		// non unique values on unique columns are reported as code 23505
		return true, "duplicate value on unique field"
	case "23502":
		// not null constraints are reported as code 23502
		return true, "missing value for required field"
	case "23503":
		// 23503 is FOREIGN KEY VIOLATION
		return true, "record is referenced by other records"
	}
	return false, ""
}

// attachEntityRoutes registers the generated routes, skipping any path
// and method a custom route has claimed beforehand.
func (b *Backend) attachEntityRoutes(e *entity) {
	listRoute := "/api/" + e.descriptor.Resource
	itemRoute := listRoute + "/{id}"

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, listRoute, e.list},
		{http.MethodPost, listRoute, e.create},
		{http.MethodGet, itemRoute, e.getOne},
		{http.MethodPut, itemRoute, e.update},
		{http.MethodDelete, itemRoute, e.delete},
	}
	for _, route := range routes {
		claim := route.method + " " + route.path
		if b.claimed[claim] {
			logger.Default().Debugln("  skip generated route, claimed by custom handler:", claim)
			continue
		}
		b.claimed[claim] = true
		b.router.HandleFunc(route.path, route.handler).Methods(http.MethodOptions, route.method)
	}
}
