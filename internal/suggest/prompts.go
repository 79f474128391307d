package suggest

import (
	"fmt"
	"strings"
)

// SystemPrompt is sent with every generation request.
const SystemPrompt = "你是一个微信聊天助手。请基于对方消息，生成3条不同风格的中文回复建议：" +
	"1) 友好简短 2) 详细专业 3) 幽默自然。" +
	"要求：自然口语、不过度夸张、每条不超过60字。"

const outputRule = "请严格输出一个 JSON 数组，长度必须是3。" +
	`示例：["回复1","回复2","回复3"]。` +
	"每个元素必须是一条可直接发送的完整回复。" +
	"不要输出任何额外文字、序号、解释或代码块，不要在单个元素里塞多条回复。"

const (
	defaultStyleRule = "风格约束：自然口语，简洁清晰。若有合适语气可轻微幽默。"
	learnedStyleRule = "用户风格偏好（来自历史点赞反馈）："
)

// StyleRule renders the style line for a learned instruction. Without one
// it asks for a plain conversational tone.
func StyleRule(instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		return defaultStyleRule
	}
	return learnedStyleRule + instruction
}

// BuildPrompt renders the user prompt for msg. When withHistory is false the
// history is ignored; otherwise it is listed oldest first before msg. A
// non-empty style line is placed before the output rule.
func BuildPrompt(msg string, history []string, withHistory bool, style string) string {
	rule := outputRule
	if style != "" {
		rule = style + "\n" + outputRule
	}

	if !withHistory {
		return fmt.Sprintf("对方消息：\n%s\n\n请输出3条不同风格的中文回复建议。\n%s", msg, rule)
	}

	block := "(无)"
	if len(history) > 0 {
		lines := make([]string, len(history))
		for i, h := range history {
			lines[i] = fmt.Sprintf("%d. %s", i+1, h)
		}
		block = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(
		"以下是最近复制到剪贴板的消息（按时间从旧到新）：\n%s\n\n当前最新消息：\n%s\n\n请结合上下文输出3条不同风格的中文回复建议。\n%s",
		block, msg, rule,
	)
}
