package tablespec

import (
	"encoding/json"

	"github.com/alecthomas/jsonschema"
	"github.com/ghodss/yaml"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ledgersync/replicator/internal/syncerr"
)

// documentSchema is generated once from the Document struct tags and reused
// for every validation call.
var documentSchema = jsonschema.Reflect(&Document{})

// ValidateAgainstSchema checks raw YAML against the JSON schema reflected
// from Document, catching shape errors (wrong types, unknown required
// fields) before the looser Validate pass inspects business rules.
func ValidateAgainstSchema(raw []byte) error {
	asJSON, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "converting table-spec YAML to JSON for validation")
	}

	schemaBytes, err := json.Marshal(documentSchema)
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "marshalling reflected table-spec schema")
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaBytes)
	docLoader := gojsonschema.NewBytesLoader(asJSON)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "running table-spec schema validation")
	}
	if !result.Valid() {
		msg := ""
		for i, e := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += e.String()
		}
		return syncerr.New(syncerr.KindConfig, component, "table-spec document failed schema validation: %s", msg)
	}
	return nil
}
