package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadscout/internal/model"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name    string
		read    model.PostRead
		blocked bool
		typ     BlockType
	}{
		{"empty page is noise", model.PostRead{}, true, BlockNoise},
		{"not found title", model.PostRead{Title: "页面不见了"}, true, BlockNotFound},
		{"404 in head", model.PostRead{Title: "小红书", Preview: "404 抱歉"}, true, BlockNotFound},
		{"404 deep in text is fine", model.PostRead{Title: "申请经验", Preview: strings.Repeat("正文", 100) + " 房间号404"}, false, BlockNone},
		{"english not found", model.PostRead{Preview: "Page Not Found"}, true, BlockNotFound},
		{"unavailable", model.PostRead{Title: "小红书", Preview: "当前笔记暂时无法浏览"}, true, BlockUnavailable},
		{"captcha", model.PostRead{Title: "安全验证", Preview: "请拖动滑块"}, true, BlockCaptcha},
		{"login wall", model.PostRead{Title: "小红书", Preview: "登录后查看更多精彩内容"}, true, BlockLoginWall},
		{"normal page", model.PostRead{Title: "英国留学经验", Preview: "分享一下申请过程"}, false, BlockNone},
		{
			"comments beat preview markers",
			model.PostRead{Title: "帖子", Preview: "登录后查看", Comments: []model.Comment{{Author: "a", Content: "申请怎么准备呢大家"}}},
			false, BlockNone,
		},
		{
			"not found title beats comments",
			model.PostRead{Title: "Page not found", Comments: []model.Comment{{Author: "a", Content: "申请怎么准备呢大家"}}},
			true, BlockNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, typ := DetectBlock(tt.read)
			assert.Equal(t, tt.blocked, blocked)
			assert.Equal(t, tt.typ, typ)
		})
	}
}
