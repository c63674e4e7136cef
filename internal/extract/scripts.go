package extract

import (
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sells-group/leadscout/internal/platform"
)

//go:embed scripts/search.js
var searchJS string

//go:embed scripts/comments.js
var commentsJS string

// SearchScript returns the result-page evaluation script for p. It returns
// a list of {href, text, author, author_url, comment_count}.
func SearchScript(p *platform.Platform, maxPosts int) string {
	return render(searchJS, p, maxPosts*6)
}

// CommentScript returns the post-page evaluation script for p. It returns
// {url, title, comments, preview}.
func CommentScript(p *platform.Platform, maxComments int) string {
	return render(commentsJS, p, maxComments)
}

func render(tmpl string, p *platform.Platform, limit int) string {
	if limit < 1 {
		limit = 1
	}
	sel := p.LinkSelector
	if sel == "" {
		sel = "a[href]"
	}
	return strings.NewReplacer(
		"__PLATFORM__", jsString(p.Name),
		"__SELECTOR__", jsString(sel),
		"__LIMIT__", strconv.Itoa(limit),
	).Replace(tmpl)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
