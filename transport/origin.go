package transport

import (
	"net/http"
	"net/url"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
)

// originValidator returns an upgrader CheckOrigin func. "*" allows every
// origin; an empty list allows only localhost.
func originValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			continue
		}
		if origin != "" {
			origins.Add(strings.ToLower(origin))
		}
	}
	if origins.Cardinality() == 0 && !allowAll {
		origins.Add("http://localhost")
		origins.Add("http://127.0.0.1")
	}

	return func(req *http.Request) bool {
		if _, ok := req.Header["Origin"]; !ok {
			return true
		}
		origin := strings.ToLower(req.Header.Get("Origin"))
		if allowAll || originAllowed(origins, origin) {
			return true
		}
		logrus.WithFields(logrus.Fields{
			"function": "originValidator",
			"origin":   origin,
		}).Warn("Rejected websocket connection")
		return false
	}
}

func originAllowed(allowed mapset.Set[string], origin string) bool {
	browser, err := url.Parse(origin)
	if err != nil || browser.Host == "" {
		return false
	}
	for _, rule := range allowed.ToSlice() {
		if ruleAllows(rule, browser) {
			return true
		}
	}
	return false
}

// ruleAllows matches scheme, hostname and port; parts missing from the
// rule match anything.
func ruleAllows(rule string, browser *url.URL) bool {
	var scheme, host, port string
	if strings.Contains(rule, "://") {
		u, err := url.Parse(rule)
		if err != nil {
			return false
		}
		scheme, host, port = u.Scheme, u.Hostname(), u.Port()
	} else {
		host = rule
		if h, p, ok := strings.Cut(rule, ":"); ok {
			host, port = h, p
		}
	}
	if scheme != "" && scheme != browser.Scheme {
		return false
	}
	if host != "" && host != browser.Hostname() {
		return false
	}
	if port != "" && port != browser.Port() {
		return false
	}
	return true
}
