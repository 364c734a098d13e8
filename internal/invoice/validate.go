package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// fieldsSchema describes a plausible invoice. Only fields that were found are
// checked against it; absent fields are reported as missing instead.
const fieldsSchema = `{
	"type": "object",
	"properties": {
		"date": {
			"type": "string",
			"pattern": "^((0?[1-9]|[12][0-9]|3[01])[/-](0?[1-9]|[12][0-9]|3[01])[/-]([0-9]{2}|[0-9]{4})|[0-9]{4}[/-](0?[1-9]|1[0-2])[/-](0?[1-9]|[12][0-9]|3[01]))$"
		},
		"vendor": {"type": "string", "minLength": 3},
		"invoice_id": {"type": "string", "minLength": 6, "maxLength": 20},
		"tax": {"type": "number", "minimum": 0},
		"total_amount": {"type": "number", "exclusiveMinimum": 0}
	}
}`

var compiledFieldsSchema = jsonschema.MustCompileString("fields.json", fieldsSchema)

// requiredFields must be present for an invoice to be considered complete
var requiredFields = []string{"date", "vendor", "invoice_id", "total_amount"}

// Validation summarises how trustworthy an extracted FieldSet is
type Validation struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing"`
	Errors  []string `json:"errors"`
}

// Validate checks an extracted FieldSet. It never fails; problems are reported
// in the returned Validation.
func Validate(fields FieldSet) Validation {
	doc := map[string]any{}
	if fields.Date != "" {
		doc["date"] = fields.Date
	}
	if fields.Vendor != "" {
		doc["vendor"] = fields.Vendor
	}
	if fields.InvoiceID != "" {
		doc["invoice_id"] = fields.InvoiceID
	}
	if fields.Tax != "" {
		doc["tax"] = amount(fields.Tax).InexactFloat64()
	}
	if fields.TotalAmount != "" {
		doc["total_amount"] = amount(fields.TotalAmount).InexactFloat64()
	}

	v := Validation{Missing: []string{}, Errors: []string{}}
	for _, name := range requiredFields {
		if _, ok := doc[name]; !ok {
			v.Missing = append(v.Missing, name)
		}
	}

	// Round-trip so the validator sees plain decoded JSON values
	b, err := json.Marshal(doc)
	if err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("encoding fields: %v", err))
		return v
	}
	var instance any
	if err := json.Unmarshal(b, &instance); err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("decoding fields: %v", err))
		return v
	}

	if err := compiledFieldsSchema.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			v.Errors = append(v.Errors, leafErrors(ve)...)
		} else {
			v.Errors = append(v.Errors, err.Error())
		}
	}

	if fields.Tax != "" && fields.TotalAmount != "" {
		tax, total := amount(fields.Tax), amount(fields.TotalAmount)
		if tax.GreaterThan(total) {
			v.Errors = append(v.Errors, fmt.Sprintf("/tax: %s exceeds total_amount %s", tax, total))
		}
	}

	sort.Strings(v.Errors)
	v.Valid = len(v.Missing) == 0 && len(v.Errors) == 0
	return v
}

func leafErrors(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		return []string{fmt.Sprintf("%s: %s", ve.InstanceLocation, ve.Message)}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, leafErrors(cause)...)
	}
	return out
}
