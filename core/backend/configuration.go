// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"github.com/succeedex/modelapi/core"
	"github.com/succeedex/modelapi/core/access"
	"github.com/succeedex/modelapi/core/descriptor"
)

// Configuration holds a complete backend configuration
type Configuration struct {
	Entities []entityConfiguration `json:"entities"`
}

// entityConfiguration describes one managed entity: its field
// declarations plus the access policy for the generated operations.
type entityConfiguration struct {
	descriptor.Definition
	Policy access.Policy `json:"policy"`
}

// validatePolicy rejects policies that name an unknown operation. A
// typo in a policy key would otherwise silently leave the intended
// operation ungated.
func validatePolicy(entity string, policy access.Policy) error {
	for operation := range policy {
		known := false
		for _, candidate := range core.Operations {
			if operation == candidate {
				known = true
				break
			}
		}
		if !known {
			return &configurationError{entity: entity, detail: "unknown operation '" + string(operation) + "' in policy"}
		}
	}
	return nil
}

type configurationError struct {
	entity string
	detail string
}

func (e *configurationError) Error() string {
	return "entity '" + e.entity + "': " + e.detail
}
