package tablespec

import (
	"os"
	"regexp"
	"strings"

	"dario.cat/mergo"
	"github.com/ettle/strcase"
	"github.com/ghodss/yaml"
	"github.com/samber/lo"

	"github.com/ledgersync/replicator/internal/syncerr"
)

const component = "tablespec"

var bareIdentifier = regexp.MustCompile(`^(\.\.)?[a-zA-Z0-9_]+$`)

// fieldDefaults is merged into every FieldSpec that omits Kind, matching
// the source YAML's convention that an untyped field is plain text.
var fieldDefaults = FieldSpec{Kind: KindText}

// Load reads a YAML declarative table-spec document from path, applies
// field defaults, derives omitted field names, and validates the result.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfig, component, err, "reading table-spec file %s", path)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML declarative table-spec document
// already in memory.
func Parse(raw []byte) (*Document, error) {
	if err := ValidateAgainstSchema(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfig, component, err, "parsing table-spec YAML")
	}

	applyDefaults(&doc)

	if err := Validate(doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func applyDefaults(doc *Document) {
	for _, specs := range [][]TableSpec{doc.Master, doc.Transaction} {
		for i := range specs {
			specs[i].Fields = lo.Map(specs[i].Fields, func(f FieldSpec, _ int) FieldSpec {
				if f.Kind == "" {
					_ = mergo.Merge(&f, fieldDefaults)
				}
				if f.Name == "" {
					f.Name = deriveName(f.Expr)
				}
				return f
			})
		}
	}
}

// deriveName turns a Gateway attribute expression into a snake_case column
// name when the table-spec entry omits one explicitly, e.g. "$GUID" or
// "..Name" becomes "guid"/"name".
func deriveName(expr string) string {
	clean := strings.TrimPrefix(expr, "..")
	clean = strings.TrimPrefix(clean, "$")
	if clean == "" {
		return "field"
	}
	return strcase.ToSnake(clean)
}

// Validate checks the structural invariants Load can't express via the
// YAML shape alone: required fields, a recognised Nature, at least one
// FieldSpec, and cascade rules that only appear on Primary tables.
func Validate(doc Document) error {
	for _, specs := range [][]TableSpec{doc.Master, doc.Transaction} {
		for _, t := range specs {
			if t.Name == "" {
				return syncerr.New(syncerr.KindConfig, component, "table-spec entry missing name")
			}
			if t.Collection == "" {
				return syncerr.New(syncerr.KindConfig, component, "table %s missing collection", t.Name)
			}
			if t.Nature != Primary && t.Nature != Secondary {
				return syncerr.New(syncerr.KindConfig, component, "table %s has invalid nature %q", t.Name, t.Nature)
			}
			if len(t.Fields) == 0 {
				return syncerr.New(syncerr.KindConfig, component, "table %s has no fields", t.Name)
			}
			if t.Nature == Secondary && len(t.CascadeDelete) > 0 {
				return syncerr.New(syncerr.KindConfig, component, "table %s is Secondary but declares cascade_delete", t.Name)
			}
			for _, f := range t.Fields {
				if !isValidKind(f.Kind) {
					return syncerr.New(syncerr.KindConfig, component, "table %s field %s has invalid kind %q", t.Name, f.Name, f.Kind)
				}
			}
		}
	}
	return nil
}

func isValidKind(k FieldKind) bool {
	switch k {
	case KindText, KindLogical, KindDate, KindNumber, KindAmount, KindQuantity, KindRate:
		return true
	default:
		return false
	}
}

// IsSimpleExpr reports whether expr is a bare Gateway attribute reference
// (optionally prefixed by the parent-scope ".." marker) rather than a
// compound expression with operators or function calls. ReportBuilder uses
// this to decide between a kind-specific template and verbatim emission.
func IsSimpleExpr(expr string) bool {
	return bareIdentifier.MatchString(expr)
}
