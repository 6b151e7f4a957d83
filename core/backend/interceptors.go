package backend

import (
	"context"

	"github.com/succeedex/modelapi/core"
	"github.com/succeedex/modelapi/core/logger"
)

// Request is a database request. Receive them
// with HandleEntityRequest()
type Request struct {
	// Entity for which this request is made
	Entity string
	// EntityID is the record identifier, empty for create and list requests
	EntityID string
	// Operation for this request
	Operation core.Operation
}

type requestHandler func(ctx context.Context, request Request, data []byte) ([]byte, error)

// HandleEntityRequest installs an in-band interceptor for a given entity and a set of
// operations. If no operations are specified, the handler is installed for create and
// update.
//
// Any returned non-nil error aborts the operation with a bad request status. If the
// handler returns a non-nil []byte, this replaces the original payload before it is
// written to the database. Hashing a password field before storage is the typical case.
func (b *Backend) HandleEntityRequest(entity string,
	handler func(ctx context.Context, request Request, data []byte) ([]byte, error),
	operations ...core.Operation) {
	if _, ok := b.entities[entity]; !ok {
		logger.Default().Fatalf("handle entity request for %s: no such entity", entity)
	}

	if len(operations) == 0 {
		operations = []core.Operation{core.OperationCreate, core.OperationUpdate}
	}
	for _, operation := range operations {
		key := requestKey(entity, operation)
		if _, ok := b.interceptors[key]; ok {
			logger.Default().Fatalf("entity request handler for %s already installed", key)
		}
		logger.Default().Debugf("install entity request handler for %s", key)
		b.interceptors[key] = handler
	}
}

func requestKey(entity string, operation core.Operation) string {
	return entity + "(" + string(operation) + ")"
}

func (b *Backend) intercept(ctx context.Context, entity string, operation core.Operation,
	entityID string, data []byte) ([]byte, error) {
	if interceptor, ok := b.interceptors[requestKey(entity, operation)]; ok {
		return interceptor(ctx,
			Request{
				Entity:    entity,
				EntityID:  entityID,
				Operation: operation,
			},
			data)
	}
	return nil, nil
}
