package server

import (
	"net/url"
	"path"
	"strings"

	"github.com/giantswarm/authz-server/storage"
)

// resolveRedirectURI picks the registered redirect URI an authorization
// request refers to. It returns the URI and whether the request named it
// explicitly. Failures must be rendered to the user agent directly.
func resolveRedirectURI(client *storage.Client, requested string) (string, bool, error) {
	if requested == "" {
		var exact []string
		for _, r := range client.RedirectURIs {
			if !strings.Contains(r, "*") {
				exact = append(exact, r)
			}
		}
		if len(exact) != 1 {
			return "", false, newError(KindInvalidRequest, "redirect_uri is required")
		}
		return exact[0], false, nil
	}

	req, err := url.Parse(requested)
	if err != nil || !req.IsAbs() || req.Fragment != "" {
		return "", true, newError(KindInvalidRequest, "invalid redirect_uri")
	}

	for _, registered := range client.RedirectURIs {
		if registered == requested {
			return requested, true, nil
		}
		if strings.Contains(registered, "*") && matchRedirectPattern(registered, req) {
			return requested, true, nil
		}
	}
	return "", true, newError(KindInvalidRequest, "redirect_uri does not match a registered redirect URI")
}

// matchRedirectPattern matches scheme, host and query exactly and the path
// with path.Match.
//
//	https://app.example.com/cb/*   matches  https://app.example.com/cb/login
func matchRedirectPattern(pattern string, req *url.URL) bool {
	p, err := url.Parse(pattern)
	if err != nil {
		return false
	}
	if !strings.EqualFold(p.Scheme, req.Scheme) || !strings.EqualFold(p.Host, req.Host) {
		return false
	}
	if p.RawQuery != req.RawQuery || req.User != nil {
		return false
	}
	ok, err := path.Match(p.Path, req.Path)
	return err == nil && ok
}

// redirectWith appends params to a redirect URI, in the query or, for
// implicit responses, in the fragment.
func redirectWith(base string, params url.Values, fragment bool) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	if fragment {
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
