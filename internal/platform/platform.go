// Package platform describes the social-content sites leadscout can search
// and owns the per-site URL rules.
package platform

import (
	"net/url"
	"sort"
	"strings"

	"github.com/sells-group/leadscout/internal/model"
)

// Platform is one searchable site. Values are immutable once registered.
type Platform struct {
	Name    string
	Aliases []string

	// SearchURL is a template; {q} is replaced by the escaped keyword.
	SearchURL string
	// Host is prepended to root-relative links ("/explore/...").
	Host string
	// Domains, when set, restricts post links to these host suffixes.
	Domains []string
	// PostMarkers are substrings of which a post URL must contain at least one.
	PostMarkers []string
	// KeepParams are the only query parameters that survive canonicalization.
	KeepParams []string
	// ProfileMarkers identify a directly messageable author profile URL.
	ProfileMarkers []string
	// RequireDMReady drops leads without a profile URL.
	RequireDMReady bool

	// SortModes the search page supports. Empty means a single unsorted pass.
	SortModes []string
	// SortParams are added to the search URL whenever a sort mode is used.
	SortParams map[string]string
	// SortFragment appends "#sort=<mode>" to the search URL.
	SortFragment bool

	// LinkSelector is the CSS selector matching post links on a result page.
	LinkSelector string
}

// SearchURLFor builds the result page URL for keyword under sortMode.
func (p *Platform) SearchURLFor(keyword, sortMode string) string {
	q := strings.ReplaceAll(url.QueryEscape(keyword), "+", "%20")
	raw := strings.ReplaceAll(p.SearchURL, "{q}", q)
	if sortMode == "" || len(p.SortModes) == 0 {
		return raw
	}

	base, _, _ := strings.Cut(raw, "#")
	if len(p.SortParams) > 0 {
		keys := make([]string, 0, len(p.SortParams))
		for k := range p.SortParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strings.Contains(base, k+"=") {
				continue
			}
			sep := "?"
			if strings.Contains(base, "?") {
				sep = "&"
			}
			base += sep + url.QueryEscape(k) + "=" + url.QueryEscape(p.SortParams[k])
		}
	}
	if p.SortFragment {
		base += "#sort=" + sortMode
	}
	return base
}

// SortModesFor resolves a requested sort mode against what the platform
// supports. The result always has at least one element; "" stands for the
// platform's default ordering.
func (p *Platform) SortModesFor(requested string) []string {
	if len(p.SortModes) == 0 {
		return []string{""}
	}
	want := ""
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "latest", "new", "最新":
		want = model.SortLatest
	case "hot", "最热":
		want = model.SortHot
	}
	if want != "" && p.supportsSort(want) {
		return []string{want}
	}
	return append([]string(nil), p.SortModes...)
}

func (p *Platform) supportsSort(mode string) bool {
	for _, m := range p.SortModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Absolute resolves href against the platform host or base.
func (p *Platform) Absolute(href, base string) string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/") && p.Host != "":
		return strings.TrimRight(p.Host, "/") + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ""
	}
	return b.ResolveReference(u).String()
}

// Canonicalize turns a raw result link into the platform's canonical post
// URL. Fragments are dropped and only KeepParams survive in the query. The
// second return value is false when the link is not a post of this platform.
func (p *Platform) Canonicalize(href, base string) (string, bool) {
	abs := p.Absolute(href, base)
	if abs == "" {
		return "", false
	}
	u, err := url.Parse(abs)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	kept := url.Values{}
	q := u.Query()
	for _, k := range p.KeepParams {
		if v := q.Get(k); v != "" {
			kept.Set(k, v)
		}
	}
	u.RawQuery = kept.Encode()

	canonical := u.String()
	if !p.matchesDomain(u.Host) || !p.matchesPost(canonical) {
		return "", false
	}
	return canonical, true
}

// IdentityKey reduces a canonical URL to scheme, host and path. Candidates
// and video access records are keyed on it so rotating session tokens in
// the query never split one post into several.
func (p *Platform) IdentityKey(canonical string) string {
	return IdentityKey(canonical)
}

// IdentityKey is the platform-independent form of Platform.IdentityKey.
func IdentityKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	return u.Scheme + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}

// profileParams are query parameters that name a user on profile pages
// whose path is shared by every user (tieba's /home/main?id=...).
var profileParams = []string{"id", "un", "uid", "uk", "user_id", "userid", "sec_uid"}

// ProfileKey reduces a profile URL to scheme, host, path and the
// user-naming query parameters, in sorted order. Session and tracking
// parameters are dropped.
func ProfileKey(rawURL string) string {
	base := IdentityKey(rawURL)
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return base
	}
	q := u.Query()
	kept := url.Values{}
	for _, k := range profileParams {
		if v := q.Get(k); v != "" {
			kept.Set(k, v)
		}
	}
	if len(kept) == 0 {
		return base
	}
	return base + "?" + kept.Encode()
}

// IsProfileURL reports whether u looks like a messageable author profile.
func (p *Platform) IsProfileURL(u string) bool {
	if u == "" {
		return false
	}
	low := strings.ToLower(u)
	for _, m := range p.ProfileMarkers {
		if strings.Contains(low, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func (p *Platform) matchesPost(canonical string) bool {
	if len(p.PostMarkers) == 0 {
		return true
	}
	low := strings.ToLower(canonical)
	for _, m := range p.PostMarkers {
		if strings.Contains(low, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func (p *Platform) matchesDomain(host string) bool {
	if len(p.Domains) == 0 {
		return true
	}
	for _, d := range p.Domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
