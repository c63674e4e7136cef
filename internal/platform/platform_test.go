package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/config"
)

func mustDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry()
	require.NoError(t, err)
	return r
}

func TestRegistry_LookupAliases(t *testing.T) {
	r := mustDefault(t)

	tests := []struct {
		in   string
		want string
	}{
		{"xhs", "xhs"},
		{"小红书", "xhs"},
		{"XiaoHongShu", "xhs"},
		{"B站", "bilibili"},
		{"视频号", "channels"},
		{" weibo ", "weibo"},
	}
	for _, tt := range tests {
		p, ok := r.Lookup(tt.in)
		require.True(t, ok, tt.in)
		assert.Equal(t, tt.want, p.Name)
	}

	_, ok := r.Lookup("myspace")
	assert.False(t, ok)
}

func TestRegistry_Parse(t *testing.T) {
	r := mustDefault(t)

	names, unknown := r.Parse("xhs, 抖音, xiaohongshu, nope, zhihu")
	assert.Equal(t, []string{"xhs", "douyin", "zhihu"}, names)
	assert.Equal(t, []string{"nope"}, unknown)

	names, unknown = r.Parse(" , ")
	assert.Equal(t, []string{"xhs"}, names)
	assert.Empty(t, unknown)
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		Platform{Name: "a", SearchURL: "https://a/{q}"},
		Platform{Name: "A", SearchURL: "https://a2/{q}"},
	)
	assert.Error(t, err)

	_, err = NewRegistry(
		Platform{Name: "a", SearchURL: "https://a/{q}", Aliases: []string{"x"}},
		Platform{Name: "b", SearchURL: "https://b/{q}", Aliases: []string{"x"}},
	)
	assert.Error(t, err)

	_, err = NewRegistry(Platform{Name: "a"})
	assert.Error(t, err)
}

func TestNewDefaultRegistry_WithConfigPlatforms(t *testing.T) {
	extra := FromConfig([]config.PlatformConfig{{
		Name:        "siteA",
		SearchURL:   "https://site-a.example/search?q={q}",
		Host:        "https://site-a.example",
		PostMarkers: []string{"/post/"},
	}})
	r, err := NewDefaultRegistry(extra...)
	require.NoError(t, err)

	p, ok := r.Lookup("sitea")
	require.True(t, ok)
	assert.Equal(t, "sitea", p.Name)
	assert.Contains(t, r.Names(), "sitea")
}

func TestSearchURLFor(t *testing.T) {
	r := mustDefault(t)

	xhs, _ := r.Lookup("xhs")
	assert.Equal(t,
		"https://www.xiaohongshu.com/search_result?keyword=%E7%95%99%E5%AD%A6&source=web_search_result_notes#sort=latest",
		xhs.SearchURLFor("留学", "latest"))
	assert.Equal(t,
		"https://www.xiaohongshu.com/search_result?keyword=study%20abroad",
		xhs.SearchURLFor("study abroad", ""))

	douyin, _ := r.Lookup("douyin")
	assert.Equal(t, "https://www.douyin.com/search/a%20b?type=general", douyin.SearchURLFor("a b", "hot"))
}

func TestSortModesFor(t *testing.T) {
	r := mustDefault(t)
	xhs, _ := r.Lookup("xhs")
	weibo, _ := r.Lookup("weibo")

	assert.Equal(t, []string{"hot", "latest"}, xhs.SortModesFor("both"))
	assert.Equal(t, []string{"latest"}, xhs.SortModesFor("最新"))
	assert.Equal(t, []string{"hot"}, xhs.SortModesFor("HOT"))
	assert.Equal(t, []string{""}, weibo.SortModesFor("latest"))
}

func TestCanonicalize(t *testing.T) {
	r := mustDefault(t)
	xhs, _ := r.Lookup("xhs")
	tieba, _ := r.Lookup("tieba")
	tiktok, _ := r.Lookup("tiktok")
	base := "https://www.xiaohongshu.com/search_result?keyword=x"

	got, ok := xhs.Canonicalize("/explore/abc?xsec_token=T1&xsec_source=pc_search&utm_source=feed#comments", base)
	require.True(t, ok)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc?xsec_source=pc_search&xsec_token=T1", got)

	got, ok = xhs.Canonicalize("//WWW.xiaohongshu.com/explore/abc", base)
	require.True(t, ok)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc", got)

	_, ok = xhs.Canonicalize("/user/profile/123", base)
	assert.False(t, ok, "non-post link")

	_, ok = xhs.Canonicalize("", base)
	assert.False(t, ok)

	_, ok = xhs.Canonicalize("javascript:void(0)", base)
	assert.False(t, ok)

	got, ok = tieba.Canonicalize("/p/998?pn=2", "https://tieba.baidu.com/f/search/res")
	require.True(t, ok)
	assert.Equal(t, "https://tieba.baidu.com/p/998", got)

	_, ok = tiktok.Canonicalize("https://evil.example/video/1", "")
	assert.False(t, ok)
	_, ok = tiktok.Canonicalize("https://www.tiktok.com/@amy/video/1", "")
	assert.True(t, ok)
}

func TestIdentityKey(t *testing.T) {
	r := mustDefault(t)
	xhs, _ := r.Lookup("xhs")

	a, _ := xhs.Canonicalize("/explore/abc?xsec_token=T1", "")
	b, _ := xhs.Canonicalize("/explore/abc/?xsec_token=T2", "")
	assert.NotEqual(t, a, b)
	assert.Equal(t, xhs.IdentityKey(a), xhs.IdentityKey(b))
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc", xhs.IdentityKey(a))
}

func TestProfileKey(t *testing.T) {
	assert.Equal(t, "https://tieba.baidu.com/home/main?id=tb.1.aaaa",
		ProfileKey("https://Tieba.baidu.com/home/main?id=tb.1.aaaa&fr=frs#x"))
	assert.Equal(t, "https://tieba.baidu.com/home/main?id=7&un=amy",
		ProfileKey("https://tieba.baidu.com/home/main?un=amy&id=7"))
	assert.Equal(t, "https://www.xiaohongshu.com/user/profile/9",
		ProfileKey("https://www.xiaohongshu.com/user/profile/9?xsec_token=a&xsec_source=pc"))
	assert.Equal(t, "not a url", ProfileKey(" not a url "))
}

func TestAbsoluteAndProfile(t *testing.T) {
	r := mustDefault(t)
	xhs, _ := r.Lookup("xhs")

	assert.Equal(t, "https://www.xiaohongshu.com/user/profile/9", xhs.Absolute("/user/profile/9", ""))
	assert.Equal(t, "https://cdn.example/a", xhs.Absolute("//cdn.example/a", ""))
	assert.Equal(t, "https://forum.example/t/u/1", (&Platform{}).Absolute("u/1", "https://forum.example/t/x"))
	assert.Equal(t, "", (&Platform{}).Absolute("u/1", ""))

	assert.True(t, xhs.IsProfileURL("https://www.xiaohongshu.com/user/profile/9?xsec_token=a"))
	assert.False(t, xhs.IsProfileURL(""))
	assert.False(t, xhs.IsProfileURL("https://www.xiaohongshu.com/explore/1"))
}
