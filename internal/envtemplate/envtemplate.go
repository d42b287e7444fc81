// Package envtemplate builds the per-connection CGI-shaped environment and
// expands #ID / #<CGI_VAR> / #QUERY_<VAR> templates, grounded on
// original_source/src/envvars.rs. The substitution order here deliberately
// diverges from the original: spec.md §4.8 requires CGI substitution before
// query substitution so an attacker-controlled query value cannot
// reintroduce a CGI placeholder; see SPEC_FULL.md §12 "REDESIGN" and
// DESIGN.md for the rationale.
package envtemplate

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/scalesocket/scalesocket/internal/types"
)

// CGIVars returns the Env's CGI-shaped variables with implicit uppercase
// keys, as original_source/src/envvars.rs::CGIEnv's From impl does.
func CGIVars(env types.Env) map[string]string {
	return map[string]string{
		"QUERY_STRING": env.QueryString,
		"REMOTE_ADDR":  env.RemoteAddr,
		"ROOM":         string(env.Room),
	}
}

// QueryVars returns the Env's query parameters with uppercased keys.
func QueryVars(env types.Env) map[string]string {
	out := make(map[string]string, len(env.Query))
	for k, v := range env.Query {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// ChildEnviron builds the []string environ for a spawned child: the host
// environment filtered through allowlist, overlaid with CGI variables, and
// optionally PORT. Matches original_source/src/utils.rs::run's
// env_clear()+envs(allowlist) pattern: nothing outside the allowlist and
// these derived keys ever reaches the child.
func ChildEnviron(hostEnv map[string]string, allowlist []string, env types.Env, port *uint16) []string {
	result := make(map[string]string, len(allowlist)+4)
	for _, key := range allowlist {
		if v, ok := hostEnv[key]; ok {
			result[key] = v
		}
	}
	for k, v := range CGIVars(env) {
		result[k] = v
	}
	if port != nil {
		result["PORT"] = strconv.Itoa(int(*port))
	}

	out := make([]string, 0, len(result))
	for k, v := range result {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// Expand replaces #ID, then every CGI key as #KEY (raw), then every query
// key as #QUERY_KEY (URL-encoded), in that order, in template. conn is the
// ConnID substituted for #ID.
func Expand(template string, conn types.ConnID, env types.Env) string {
	result := strings.ReplaceAll(template, "#ID", strconv.FormatUint(uint64(conn), 10))
	result = replaceVars(result, "#", CGIVars(env), false)
	result = replaceVars(result, "#QUERY_", QueryVars(env), true)
	return result
}

func replaceVars(template, prefix string, vars map[string]string, urlencode bool) string {
	result := template
	for key, value := range vars {
		placeholder := prefix + key
		if urlencode {
			// url.PathEscape percent-encodes spaces as %20, matching the
			// original's urlencoding::encode; QueryEscape would use "+".
			value = url.PathEscape(value)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}
	return result
}
