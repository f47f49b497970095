package msglog

import (
	"math"

	"sudooom.im.message/internal/model"
	"sudooom.im.message/internal/rowkey"
	"sudooom.im.message/pkg/snowflake"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePageSize 默认 20，最大 100
func NormalizePageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

// resolveRange 计算历史查询的有效键区间
// 时间范围与游标各自给出一组边界，两者取交集，同一侧以更紧的边界为准。
func resolveRange(q model.HistoryQuery) (KeyRange, error) {
	conv := q.ConversationID
	r := KeyRange{
		Start: rowkey.PrefixOf(conv),
		End:   rowkey.UpperBoundOf(conv),
	}

	if q.StartTime > 0 {
		r.Start = maxKey(r.Start, rowkey.EncodeID(conv, snowflake.MinIDAt(q.StartTime)))
	}
	if q.EndTime > 0 {
		maxID := snowflake.MaxIDAt(q.EndTime)
		if maxID < 0 {
			return KeyRange{}, nil
		}
		if maxID < math.MaxInt64 {
			r.End = minKey(r.End, rowkey.EncodeID(conv, maxID+1))
		}
	}

	if q.Cursor != "" {
		id, err := rowkey.ParseMessageID(q.Cursor)
		if err != nil {
			return KeyRange{}, ErrInvalidParams.Wrap(err)
		}
		if q.Reverse {
			r.End = minKey(r.End, rowkey.EncodeID(conv, id))
		} else {
			if id == math.MaxInt64 {
				return KeyRange{}, nil
			}
			r.Start = maxKey(r.Start, rowkey.EncodeID(conv, id+1))
		}
	}

	return r, nil
}

func maxKey(a, b string) string {
	if a > b {
		return a
	}
	return b
}

func minKey(a, b string) string {
	if a < b {
		return a
	}
	return b
}
