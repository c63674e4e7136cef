package extract

import (
	"strings"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/textutil"
)

// BlockType describes why a visited page is unusable.
type BlockType string

const (
	BlockNone        BlockType = ""
	BlockNotFound    BlockType = "not_found"
	BlockUnavailable BlockType = "unavailable"
	BlockCaptcha     BlockType = "captcha"
	BlockLoginWall   BlockType = "login_wall"

	// BlockNoise is an empty page: no title, preview or comments.
	BlockNoise BlockType = "noise"
)

// headRunes bounds how much of the preview is searched for short status
// tokens such as "404" that also occur in ordinary text.
const headRunes = 160

var (
	notFoundMarkers    = []string{"页面不见了", "page not found", "笔记不存在", "内容不存在", "该内容已被删除"}
	unavailableMarkers = []string{"暂时无法浏览", "无法浏览", "内容无法展示", "content unavailable"}
	captchaMarkers     = []string{"captcha", "验证码", "安全验证", "滑块验证", "请完成验证"}
	loginMarkers       = []string{"登录后查看", "请先登录", "扫码登录", "log in to continue"}
)

// DetectBlock checks a visited page for signs that it is gone, restricted
// or behind an anti-bot wall.
func DetectBlock(read model.PostRead) (bool, BlockType) {
	title := textutil.Fold(read.Title)
	preview := textutil.Fold(read.Preview)

	if title == "" && preview == "" && len(read.Comments) == 0 {
		return true, BlockNoise
	}
	// Comments prove the page rendered; only an explicit not-found title
	// overrides them.
	if len(read.Comments) > 0 {
		if containsAny(title, notFoundMarkers) {
			return true, BlockNotFound
		}
		return false, BlockNone
	}

	head := title + " " + textutil.Clip(preview, headRunes)
	text := title + " " + preview

	if containsAny(text, notFoundMarkers) || strings.Contains(head, "404") {
		return true, BlockNotFound
	}
	if containsAny(text, unavailableMarkers) {
		return true, BlockUnavailable
	}
	if containsAny(head, captchaMarkers) {
		return true, BlockCaptcha
	}
	if containsAny(head, loginMarkers) {
		return true, BlockLoginWall
	}
	return false, BlockNone
}

func containsAny(folded string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(folded, m) {
			return true
		}
	}
	return false
}
