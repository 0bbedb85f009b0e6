package httpcache

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// MatchHeaders are the request headers that take part in the cache key.
// Other headers (User-Agent, conditional validators) never change the
// upstream payload.
var MatchHeaders = []string{"Accept", "Accept-Encoding"}

// Key identifies a cached response.
type Key struct {
	// Method is the HTTP method; only GET is cached.
	Method string

	// URL is the full request URL.
	URL string

	// Headers are the request headers; only MatchHeaders are used.
	Headers http.Header
}

// KeyFor builds the Key of req.
func KeyFor(req *http.Request) Key {
	return Key{Method: req.Method, URL: req.URL.String(), Headers: req.Header}
}

// String generates a deterministic cache key string.
// Format: oda:METHOD:normalized-url[:header=value...]
//
// Example:
//
//	oda:GET:https://sdmx.oecd.org/public/rest/data/OECD.DCD.FSD,DSD_DAC1@DF_DAC1,1.6/..?format=csvfilewithlabels:accept-encoding=gzip
func (k Key) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = http.MethodGet
	}
	parts := []string{"oda", method, normalizeURL(k.URL)}

	for _, h := range MatchHeaders {
		if v := k.Headers.Values(h); len(v) > 0 {
			parts = append(parts, strings.ToLower(h)+"="+strings.Join(v, ","))
		}
	}

	return strings.Join(parts, ":")
}

// normalizeURL sorts query parameters and drops the fragment so logically
// identical URLs share a key. Unparsable URLs are used verbatim.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)

	q := u.Query()
	if len(q) > 0 {
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var b strings.Builder
		for i, key := range keys {
			vals := q[key]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(key))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	return u.String()
}
