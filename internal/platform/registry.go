package platform

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/textutil"
)

// DefaultPlatform is used when a platform list resolves to nothing.
const DefaultPlatform = "xhs"

// Registry is the set of known platforms. It is built once per process and
// never mutated afterwards.
type Registry struct {
	byName  map[string]*Platform
	aliases map[string]string
	order   []string
}

// NewRegistry validates defs and indexes them by name and alias.
func NewRegistry(defs ...Platform) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]*Platform, len(defs)),
		aliases: make(map[string]string),
	}
	for i := range defs {
		p := defs[i]
		name := textutil.Fold(p.Name)
		if name == "" {
			return nil, eris.New("platform: definition without name")
		}
		if p.SearchURL == "" {
			return nil, eris.Errorf("platform: %s has no search url", name)
		}
		if _, dup := r.byName[name]; dup {
			return nil, eris.Errorf("platform: duplicate definition %s", name)
		}
		p.Name = name
		r.byName[name] = &p
		r.order = append(r.order, name)
	}
	for _, name := range r.order {
		for _, a := range r.byName[name].Aliases {
			key := textutil.Fold(a)
			if key == "" {
				continue
			}
			if _, clash := r.byName[key]; clash {
				return nil, eris.Errorf("platform: alias %q of %s shadows a platform name", a, name)
			}
			if owner, clash := r.aliases[key]; clash && owner != name {
				return nil, eris.Errorf("platform: alias %q claimed by %s and %s", a, owner, name)
			}
			r.aliases[key] = name
		}
	}
	return r, nil
}

// NewDefaultRegistry returns the built-in platforms plus extra definitions.
func NewDefaultRegistry(extra ...Platform) (*Registry, error) {
	return NewRegistry(append(DefaultDefinitions(), extra...)...)
}

// Lookup resolves a platform by name or alias.
func (r *Registry) Lookup(name string) (*Platform, bool) {
	key := textutil.Fold(name)
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	p, ok := r.byName[key]
	return p, ok
}

// Names lists registered platforms in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Parse resolves a comma-separated list of names and aliases into unique
// registered platform names, keeping first-seen order. Unknown entries are
// returned separately. An empty result falls back to DefaultPlatform.
func (r *Registry) Parse(raw string) (names []string, unknown []string) {
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = textutil.NormalizeSpace(part)
		if part == "" {
			continue
		}
		p, ok := r.Lookup(part)
		if !ok {
			unknown = append(unknown, part)
			continue
		}
		if !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		if _, ok := r.byName[DefaultPlatform]; ok {
			names = []string{DefaultPlatform}
		}
	}
	return names, unknown
}

// FromConfig converts operator-declared platforms into definitions.
func FromConfig(cfgs []config.PlatformConfig) []Platform {
	out := make([]Platform, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Platform{
			Name:           c.Name,
			Aliases:        c.Aliases,
			SearchURL:      c.SearchURL,
			Host:           c.Host,
			PostMarkers:    c.PostMarkers,
			KeepParams:     c.KeepParams,
			ProfileMarkers: c.ProfileMarkers,
			RequireDMReady: c.RequireDMReady,
			LinkSelector:   c.LinkSelector,
		})
	}
	return out
}

// DefaultDefinitions returns fresh copies of the built-in platforms.
func DefaultDefinitions() []Platform {
	return []Platform{
		{
			Name:           "xhs",
			Aliases:        []string{"小红书", "xiaohongshu", "rednote"},
			SearchURL:      "https://www.xiaohongshu.com/search_result?keyword={q}",
			Host:           "https://www.xiaohongshu.com",
			PostMarkers:    []string{"/explore/"},
			KeepParams:     []string{"xsec_token", "xsec_source"},
			ProfileMarkers: []string{"/user/profile/"},
			RequireDMReady: true,
			SortModes:      []string{model.SortHot, model.SortLatest},
			SortParams:     map[string]string{"source": "web_search_result_notes"},
			SortFragment:   true,
			LinkSelector:   "a[href*='/explore/']",
		},
		{
			Name:           "douyin",
			Aliases:        []string{"抖音"},
			SearchURL:      "https://www.douyin.com/search/{q}?type=general",
			Host:           "https://www.douyin.com",
			PostMarkers:    []string{"/video/", "/note/"},
			ProfileMarkers: []string{"/user/"},
			LinkSelector:   "a[href*='/video/'],a[href*='douyin.com/note/']",
		},
		{
			Name:           "kuaishou",
			Aliases:        []string{"快手"},
			SearchURL:      "https://www.kuaishou.com/search/video?searchKey={q}",
			Host:           "https://www.kuaishou.com",
			PostMarkers:    []string{"short-video", "/fw/photo/", "v.kuaishou.com"},
			ProfileMarkers: []string{"/profile/"},
			LinkSelector:   "a[href*='short-video'],a[href*='/fw/photo/']",
		},
		{
			Name:         "channels",
			Aliases:      []string{"视频号", "shipinhao", "wechat_channels", "wechat-channels"},
			SearchURL:    "https://channels.weixin.qq.com/platform/search?keyword={q}",
			Host:         "https://channels.weixin.qq.com",
			PostMarkers:  []string{"channels.weixin.qq.com", "finder/video"},
			LinkSelector: "a[href*='finder'],a[href*='channels.weixin.qq.com']",
		},
		{
			Name:           "tiktok",
			SearchURL:      "https://www.tiktok.com/search?q={q}",
			Host:           "https://www.tiktok.com",
			Domains:        []string{"tiktok.com"},
			PostMarkers:    []string{"/video/"},
			ProfileMarkers: []string{"tiktok.com/@"},
			LinkSelector:   "a[href*='/video/']",
		},
		{
			Name:           "bilibili",
			Aliases:        []string{"b站", "哔哩哔哩"},
			SearchURL:      "https://search.bilibili.com/all?keyword={q}",
			Host:           "https://www.bilibili.com",
			PostMarkers:    []string{"video", "b23.tv"},
			ProfileMarkers: []string{"space.bilibili.com"},
			LinkSelector:   "a[href*='bilibili.com/video/'],a[href*='b23.tv/']",
		},
		{
			Name:           "weibo",
			Aliases:        []string{"微博"},
			SearchURL:      "https://s.weibo.com/weibo?q={q}",
			Host:           "https://s.weibo.com",
			PostMarkers:    []string{"weibo.com", "m.weibo.cn"},
			ProfileMarkers: []string{"weibo.com/u/"},
			LinkSelector:   "a[href*='weibo.com'],a[href*='m.weibo.cn/status/']",
		},
		{
			Name:           "zhihu",
			Aliases:        []string{"知乎"},
			SearchURL:      "https://www.zhihu.com/search?type=content&q={q}",
			Host:           "https://www.zhihu.com",
			PostMarkers:    []string{"/question/", "zhuanlan.zhihu.com/p/"},
			ProfileMarkers: []string{"/people/"},
			LinkSelector:   "a[href*='question/'],a[href*='zhuanlan.zhihu.com/p/']",
		},
		{
			Name:           "tieba",
			Aliases:        []string{"贴吧"},
			SearchURL:      "https://tieba.baidu.com/f/search/res?ie=utf-8&qw={q}",
			Host:           "https://tieba.baidu.com",
			PostMarkers:    []string{"/p/"},
			ProfileMarkers: []string{"/home/main"},
			LinkSelector:   "a[href*='/p/']",
		},
	}
}
