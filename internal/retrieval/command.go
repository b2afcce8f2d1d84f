package retrieval

import (
	"regexp"
	"strings"
)

// CommandKind 买家消息中的取码指令类型。
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandList             // "cd"：列出名下号码
	CommandCode             // "cd <号码>"：获取验证码
)

const trigger = "cd"

var codePattern = regexp.MustCompile(`(?i)^cd\s+(\d+)$`)

type Command struct {
	Kind  CommandKind
	Phone string
}

// ParseCommand 解析聊天消息；不匹配时返回 CommandNone。
func ParseCommand(text string) Command {
	t := strings.TrimSpace(text)
	if strings.EqualFold(t, trigger) {
		return Command{Kind: CommandList}
	}
	if m := codePattern.FindStringSubmatch(t); m != nil {
		return Command{Kind: CommandCode, Phone: m[1]}
	}
	return Command{}
}
