package notice

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/samber/lo"
	"github.com/sthembisoo/airbrake-notifier/types"
)

// CLIURI builds the pseudo URL reported for command-line invocations:
// cli://<hostname>/<script>[?0=arg1&1=arg2...]. argv[0] never appears in the query.
func CLIURI(hostname, scriptPath string, argv []string) string {
	path := "/" + strings.TrimLeft(scriptPath, "/")

	query := ""
	if len(argv) > 1 {
		pairs := lo.Map(argv[1:], func(arg string, i int) string {
			return fmt.Sprintf("%d=%s", i, url.QueryEscape(arg))
		})
		query = "?" + strings.Join(pairs, "&")
	}

	return "cli://" + hostname + path + query
}

// CLIContext snapshots the current process as a request context.
func CLIContext() types.RequestContext {
	hostname, _ := os.Hostname()

	script := ""
	if len(os.Args) > 0 {
		script = os.Args[0]
	}
	if exe, err := os.Executable(); err == nil {
		script = exe
	}

	root, _ := os.Getwd()

	return types.RequestContext{
		URI:             CLIURI(hostname, script, os.Args),
		EnvironmentVars: Environ(os.Environ()),
		ProjectRoot:     root,
	}
}

// Environ turns KEY=value pairs into a map.
func Environ(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

// HTTPContext snapshots an inbound request. The body is not read: only a
// form that the handler already parsed contributes to params.
func HTTPContext(r *http.Request) types.RequestContext {
	scheme := "http"
	if r.TLS != nil || strings.HasSuffix(r.Host, ":443") {
		scheme = "https"
	}

	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	cgi := map[string]string{
		"REQUEST_METHOD":  r.Method,
		"REQUEST_URI":     r.URL.RequestURI(),
		"REMOTE_ADDR":     r.RemoteAddr,
		"SERVER_PROTOCOL": r.Proto,
	}
	for name, values := range r.Header {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		cgi[key] = strings.Join(values, ", ")
	}
	// net/http moves Host out of the header map.
	if r.Host != "" {
		cgi["HTTP_HOST"] = r.Host
	}

	return types.RequestContext{
		URI:             scheme + "://" + r.Host + r.URL.RequestURI(),
		Params:          params,
		EnvironmentVars: cgi,
	}
}
