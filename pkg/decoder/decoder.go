// Package decoder parses the Gateway's flat, positionally tagged response
// into rows. It is a direct port of sync_service.py's _parse_xml_response:
// locate every <F01> as a row boundary, then for 1..N extract <Fii> inside
// each slice.
package decoder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledgersync/replicator/internal/syncerr"
	"github.com/ledgersync/replicator/pkg/row"
	"github.com/ledgersync/replicator/pkg/tablespec"
)

const component = "decoder"

// nullSentinel is the Gateway's single-code-point null marker, U+00F1 (ñ).
const nullSentinel = "ñ"

const byteOrderMark = "﻿"

// Decoder parses Gateway responses into rows, given the FieldSpec list that
// produced the request. It is stateless.
type Decoder struct{}

// New returns a ready-to-use Decoder.
func New() Decoder {
	return Decoder{}
}

// Decode parses response against fields, in FieldSpec order — the response
// tag's 1-based index is contractually the column position.
func (Decoder) Decode(response string, fields []tablespec.FieldSpec) ([]row.Row, error) {
	response = stripBOM(response)
	n := len(fields)
	if n == 0 {
		return nil, syncerr.New(syncerr.KindDecode, component, "no fields to decode against")
	}

	firstTagRe := regexp.MustCompile(`<F01>`)
	starts := firstTagRe.FindAllStringIndex(response, -1)
	if len(starts) == 0 {
		return []row.Row{}, nil
	}

	tagRes := make([]*regexp.Regexp, n)
	for i := 0; i < n; i++ {
		tag := fmt.Sprintf("F%02d", i+1)
		tagRes[i] = regexp.MustCompile(`<` + tag + `>(.*?)</` + tag + `>`)
	}

	rows := make([]row.Row, 0, len(starts))
	for idx, s := range starts {
		end := len(response)
		if idx+1 < len(starts) {
			end = starts[idx+1][0]
		}
		slice := response[s[0]:end]

		r := make(row.Row, n)
		for i, f := range fields {
			var raw string
			if m := tagRes[i].FindStringSubmatch(slice); m != nil {
				raw = m[1]
			}
			r[f.Name] = coerce(f.Kind, raw)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, byteOrderMark)
}

func isNull(raw string) bool {
	return raw == "" || raw == nullSentinel
}

func coerce(kind tablespec.FieldKind, raw string) any {
	switch kind {
	case tablespec.KindText:
		if isNull(raw) {
			return ""
		}
		return raw
	case tablespec.KindLogical:
		switch raw {
		case "Yes", "1", "true", "True":
			return 1
		default:
			return 0
		}
	case tablespec.KindNumber, tablespec.KindAmount, tablespec.KindRate, tablespec.KindQuantity:
		if isNull(raw) {
			return 0.0
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return 0.0
		}
		return f
	case tablespec.KindDate:
		if isNull(raw) {
			return nil
		}
		iso, ok := ParseGatewayDate(raw)
		if !ok {
			return nil
		}
		return iso
	default:
		if isNull(raw) {
			return ""
		}
		return raw
	}
}
