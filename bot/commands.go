package bot

import "strings"

// Action is the kind of a chat command.
type Action int

// Chat command actions.
const (
	ActionUnknown Action = iota
	ActionAdd
	ActionDelete
	ActionList
	ActionCompare
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionDelete:
		return "delete"
	case ActionList:
		return "list"
	case ActionCompare:
		return "compare"
	default:
		return "unknown"
	}
}

// Command is a parsed chat message.
type Command struct {
	Product string
	Action  Action
}

var prefixed = []struct {
	prefix string
	action Action
}{
	{"新增", ActionAdd},
	{"刪除", ActionDelete},
	{"比價", ActionCompare},
}

var listWords = []string{"清單", "列表", "願望清單"}

// Parse recognizes a chat command. A command prefix without a product name,
// or any other text, yields ActionUnknown.
func Parse(text string) Command {
	text = strings.TrimSpace(text)

	for _, p := range prefixed {
		rest, ok := strings.CutPrefix(text, p.prefix)
		if !ok {
			continue
		}
		product := strings.TrimSpace(rest)
		if product == "" {
			return Command{Action: ActionUnknown}
		}
		return Command{Action: p.action, Product: product}
	}

	for _, w := range listWords {
		if text == w {
			return Command{Action: ActionList}
		}
	}
	return Command{Action: ActionUnknown}
}

// HelpMessage is the usage text sent for unrecognized messages.
const HelpMessage = `📋 願望清單比價機器人 使用說明

指令列表：
• 新增 [商品名稱] - 加入願望清單
• 刪除 [商品名稱] - 從清單移除
• 清單 - 顯示所有願望清單
• 比價 [商品名稱] - 立即搜尋最低價

範例：
• 新增 iPhone 16
• 刪除 iPhone 16
• 比價 AirPods Pro`
