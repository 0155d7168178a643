package manifest

import (
	"errors"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const schemaURL = "manifest.schema.json"

// amountSchema bounds on-chain uint256 parameters to what the deployer
// passes through as uint64.
const amountSchema = `{"type": "integer", "minimum": 0, "maximum": 18446744073709551615}`

const descriptorSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["publicImage", "privateData"],
	"properties": {
		"title": {"type": ["string", "null"]},
		"description": {"type": ["string", "null"]},
		"publicImage": {"type": "string"},
		"privateData": {"type": "string"},
		"attributes": {"type": "array", "items": {"type": "object"}, "uniqueItems": true},
		"owner": {"type": ["string", "null"], "pattern": "^0x[0-9a-fA-F]{40}$"}
	}
}`

// CollectionSchema is the JSON Schema of the collection manifest.
const CollectionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"required": ["title", "symbol", "nfts", "creatorRoyalty"],
	"properties": {
		"title": {"type": "string"},
		"symbol": {"type": "string"},
		"initialBaseUri": {"type": ["string", "null"], "format": "uri"},
		"minting": {
			"type": ["object", "null"],
			"additionalProperties": false,
			"required": ["premintPrice", "maxPremintCount", "mintPrice", "maxMintCount"],
			"properties": {
				"premintPrice": ` + amountSchema + `,
				"maxPremintCount": ` + amountSchema + `,
				"mintPrice": ` + amountSchema + `,
				"maxMintCount": ` + amountSchema + `
			}
		},
		"creatorRoyalty": {"type": "number", "minimum": 0, "maximum": 20},
		"allowDuplicates": {"type": "string", "enum": ["no", "public", "private", "yes"]},
		"nfts": {"type": "array", "minItems": 1, "uniqueItems": true, "items": ` + descriptorSchema + `}
	}
}`

var (
	collectionSchema = compileSchema()
	printer          = message.NewPrinter(language.English)
)

func compileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(CollectionSchema))
	if err != nil {
		panic("manifest: decode schema: " + err.Error())
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic("manifest: add schema: " + err.Error())
	}
	return c.MustCompile(schemaURL)
}

type schemaError struct {
	path    []string
	message string
}

func (e schemaError) location() string {
	if len(e.path) == 0 {
		return "manifest"
	}
	return "manifest." + strings.Join(e.path, ".")
}

func (e schemaError) String() string { return e.location() + " " + e.message }

// schemaErrors validates doc, which must have been decoded with
// json.Decoder.UseNumber, and renders every violation as
// "manifest.<dotted.path> <message>" ordered by location.
func schemaErrors(doc any) ([]string, error) {
	err := collectionSchema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}
	var found []schemaError
	collectLeaves(verr, &found)
	sort.SliceStable(found, func(i, j int) bool {
		if c := comparePaths(found[i].path, found[j].path); c != 0 {
			return c < 0
		}
		return found[i].message < found[j].message
	})
	out := make([]string, 0, len(found))
	for _, e := range found {
		out = append(out, e.String())
	}
	return out, nil
}

func collectLeaves(verr *jsonschema.ValidationError, out *[]schemaError) {
	if len(verr.Causes) > 0 {
		for _, cause := range verr.Causes {
			collectLeaves(cause, out)
		}
		return
	}
	path := append([]string(nil), verr.InstanceLocation...)
	for _, msg := range describe(verr.ErrorKind) {
		*out = append(*out, schemaError{path: path, message: msg})
	}
}

// comparePaths orders instance locations segment by segment, comparing
// array indices numerically.
func comparePaths(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		ai, aerr := strconv.Atoi(a[i])
		bi, berr := strconv.Atoi(b[i])
		if aerr == nil && berr == nil {
			return ai - bi
		}
		return strings.Compare(a[i], b[i])
	}
	return len(a) - len(b)
}

// describe phrases a violation the way manifest authors know it from the
// web uploader.
func describe(k jsonschema.ErrorKind) []string {
	switch k := k.(type) {
	case *kind.Required:
		msgs := make([]string, 0, len(k.Missing))
		for _, name := range k.Missing {
			msgs = append(msgs, "must have required property '"+name+"'")
		}
		return msgs
	case *kind.AdditionalProperties:
		msgs := make([]string, 0, len(k.Properties))
		for range k.Properties {
			msgs = append(msgs, "must NOT have additional properties")
		}
		return msgs
	case *kind.Type:
		want := make([]string, 0, len(k.Want))
		for _, t := range k.Want {
			if t != "null" {
				want = append(want, t)
			}
		}
		return []string{"must be " + strings.Join(want, ",")}
	case *kind.Minimum:
		return []string{"must be >= " + formatRat(k.Want)}
	case *kind.Maximum:
		return []string{"must be <= " + formatRat(k.Want)}
	case *kind.MinItems:
		return []string{"must NOT have fewer than " + strconv.Itoa(k.Want) + " items"}
	case *kind.UniqueItems:
		return []string{printer.Sprintf("must NOT have duplicate items (items ## %d and %d are identical)", k.Duplicates[1], k.Duplicates[0])}
	case *kind.Enum:
		return []string{"must be equal to one of the allowed values"}
	case *kind.Pattern:
		return []string{`must match pattern "` + k.Want + `"`}
	case *kind.Format:
		return []string{`must match format "` + k.Want + `"`}
	default:
		return []string{k.LocalizedString(printer)}
	}
}

func formatRat(r *big.Rat) string {
	if r == nil {
		return "0"
	}
	if r.IsInt() {
		return r.Num().String()
	}
	f, _ := r.Float64()
	return strconv.FormatFloat(f, 'f', -1, 64)
}
