// Package rowkey 实现消息存储键的编解码。
//
// 键格式为 {conversationId}_{messageId}，其中 messageId 左补零到固定 20 位，
// 因此同一会话内键的字典序与消息 ID 的数值序（即生成时间序）一致。
// conversationId 不允许包含分隔符，保证不同会话的键区间互不重叠。
package rowkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Separator 会话与消息 ID 的分隔符
	Separator = '_'

	// IDWidth 消息 ID 补零后的宽度
	IDWidth = 20
)

var (
	ErrMalformedKey     = errors.New("rowkey: malformed key")
	ErrInvalidConvID    = errors.New("rowkey: invalid conversation id")
	ErrInvalidMessageID = errors.New("rowkey: invalid message id")
)

// ValidateConversationID 校验会话 ID
func ValidateConversationID(conversationID string) error {
	if conversationID == "" || strings.IndexByte(conversationID, Separator) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidConvID, conversationID)
	}
	return nil
}

// ParseMessageID 解析十进制消息 ID
func ParseMessageID(messageID string) (int64, error) {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMessageID, messageID)
	}
	return id, nil
}

// Encode 编码存储键
func Encode(conversationID, messageID string) (string, error) {
	if err := ValidateConversationID(conversationID); err != nil {
		return "", err
	}
	id, err := ParseMessageID(messageID)
	if err != nil {
		return "", err
	}
	return EncodeID(conversationID, id), nil
}

// EncodeID 使用数值 ID 编码存储键，调用方需保证 conversationID 合法
func EncodeID(conversationID string, id int64) string {
	var b strings.Builder
	b.Grow(len(conversationID) + 1 + IDWidth)
	b.WriteString(conversationID)
	b.WriteByte(Separator)
	fmt.Fprintf(&b, "%0*d", IDWidth, id)
	return b.String()
}

// PrefixOf 会话键区间下界（含）
func PrefixOf(conversationID string) string {
	return conversationID + string(Separator)
}

// UpperBoundOf 会话键区间上界（不含）
func UpperBoundOf(conversationID string) string {
	return conversationID + string(rune(Separator+1))
}

// Decode 解码存储键
func Decode(key string) (conversationID, messageID string, err error) {
	i := strings.LastIndexByte(key, Separator)
	if i <= 0 || len(key)-i-1 != IDWidth {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	digits := key[i+1:]
	for j := 0; j < len(digits); j++ {
		if digits[j] < '0' || digits[j] > '9' {
			return "", "", fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	return key[:i], strconv.FormatInt(id, 10), nil
}

// DecodeLenient 解码失败时把整个键当作消息 ID 返回，ok 表示是否解码成功
func DecodeLenient(key string) (conversationID, messageID string, ok bool) {
	conversationID, messageID, err := Decode(key)
	if err != nil {
		return "", key, false
	}
	return conversationID, messageID, true
}
