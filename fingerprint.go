package apiclient

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// Params are the query parameters of a logical request. Nil values are
// dropped; slices become repeated parameters in their original order.
type Params map[string]any

// Values converts the params into url.Values.
func (p Params) Values() url.Values {
	values := make(url.Values, len(p))
	for key, raw := range p {
		for _, v := range formatParam(raw) {
			values.Add(key, v)
		}
	}
	return values
}

// Encode returns the canonical query string: keys sorted, values in order.
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}
	return p.Values().Encode()
}

// Fingerprint derives the identity of a logical request from its endpoint and
// parameters. Parameter order never changes the result, and a query string
// already present on the endpoint is merged into the canonical form.
func Fingerprint(endpoint string, params Params) string {
	path, query := splitEndpoint(endpoint)
	for key, vals := range params.Values() {
		query[key] = append(query[key], vals...)
	}
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

// endpointPath strips the query from an endpoint, used for metric labels.
func endpointPath(endpoint string) string {
	path, _ := splitEndpoint(endpoint)
	if path == "" {
		return "/"
	}
	return path
}

func splitEndpoint(endpoint string) (string, url.Values) {
	endpoint = strings.TrimSpace(endpoint)
	path, rawQuery, found := strings.Cut(endpoint, "?")
	if !found || rawQuery == "" {
		return path, url.Values{}
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return endpoint, url.Values{}
	}
	return path, query
}

func formatParam(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case bool:
		return []string{strconv.FormatBool(v)}
	case int:
		return []string{strconv.Itoa(v)}
	case int64:
		return []string{strconv.FormatInt(v, 10)}
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case fmt.Stringer:
		return []string{v.String()}
	case []byte:
		return []string{string(v)}
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return formatParam(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, formatParam(rv.Index(i).Interface())...)
		}
		return out
	default:
		return []string{fmt.Sprint(raw)}
	}
}
