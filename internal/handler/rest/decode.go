package hrest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"ledger-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads exactly one JSON object into dst. Unknown fields and
// trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.Invalid("body", "request body must contain a single JSON object")
	}
	return nil
}

func bodyError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
		de        *domain.Error
	)
	switch {
	case errors.Is(err, io.EOF):
		return domain.Invalid("body", "request body is required")
	case errors.As(err, &syntaxErr):
		return domain.Invalid("body", "malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return domain.Invalid("body", "request body must be a JSON object")
		}
		return domain.Invalid(typeErr.Field, "%s has the wrong type", typeErr.Field)
	case errors.As(err, &sizeErr):
		return domain.Invalid("body", "request body exceeds %d bytes", sizeErr.Limit)
	case errors.As(err, &de):
		return de
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return domain.Invalid(field, "unknown field %q", field)
	default:
		return domain.Invalid("body", "invalid request body")
	}
}

// minorUnits parses a money field. Only plain integers are accepted; a
// fraction or exponent would silently change the amount.
func minorUnits(field string, n json.Number) (int64, error) {
	s := n.String()
	if s == "" {
		return 0, nil
	}
	if strings.ContainsAny(s, ".eE") {
		return 0, domain.Invalid(field, "%s must be an integer number of minor units", field)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, domain.Invalid(field, "%s is out of range", field)
	}
	return v, nil
}

func requiredMinorUnits(field string, n json.Number) (int64, error) {
	if n == "" {
		return 0, domain.Invalid(field, "%s is required", field)
	}
	return minorUnits(field, n)
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.Invalid(name, "%s must be an integer", name)
	}
	return v, nil
}

func postingFilter(r *http.Request, accountID string) (domain.PostingFilter, error) {
	f := domain.PostingFilter{AccountID: accountID}
	page, err := queryInt(r, "page")
	if err != nil {
		return f, err
	}
	size, err := queryInt(r, "page_size")
	if err != nil {
		return f, err
	}
	asOf, err := queryInt(r, "as_of")
	if err != nil {
		return f, err
	}
	if page > 1<<31 || size > 1<<31 {
		return f, domain.Invalid("page", "page out of range")
	}
	f.Page, f.PageSize, f.AsOf = int(page), int(size), asOf
	if f.Page == 0 && r.URL.Query().Has("page") {
		return f, domain.Invalid("page", "page must be >= 1")
	}
	if f.PageSize == 0 && r.URL.Query().Has("page_size") {
		return f, domain.Invalid("page_size", "page_size must be between 1 and %d", domain.MaxPageSize)
	}
	if t := r.URL.Query().Get("transaction_type"); t != "" {
		kind := domain.PostingKind(t)
		f.Kind = &kind
	}
	return f, nil
}
