package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	// 起始时间戳 (2024-01-01 00:00:00 UTC)
	Epoch int64 = 1704067200000

	// 位数分配
	nodeBits     = 10
	sequenceBits = 12

	// 最大值
	maxNodeID   = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	// 位移
	nodeShift      = sequenceBits
	timestampShift = nodeBits + sequenceBits

	maxTimestamp = int64(^uint64(0)>>1) >> timestampShift
)

// ID 雪花ID
type ID int64

// String 转换为十进制字符串
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Int64 转换为 int64
func (id ID) Int64() int64 {
	return int64(id)
}

// Time 返回 ID 中编码的生成时间（毫秒）
func (id ID) Time() int64 {
	return TimeOf(int64(id))
}

// Node 雪花ID生成器节点
type Node struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
	now      func() int64
}

// NewNode 创建雪花ID生成器
func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("snowflake: node id %d out of range [0, %d]", nodeID, maxNodeID)
	}
	return &Node{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Generate 生成雪花ID
func (n *Node) Generate() ID {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	// 时钟回拨时沿用上次时间，保证单节点内单调递增
	if now < n.lastTime {
		now = n.lastTime
	}

	if now == n.lastTime {
		n.sequence = (n.sequence + 1) & maxSequence
		if n.sequence == 0 {
			// 序号用尽，等待下一毫秒
			for now <= n.lastTime {
				now = n.now()
			}
		}
	} else {
		n.sequence = 0
	}

	n.lastTime = now

	id := ((now - Epoch) << timestampShift) |
		(n.nodeID << nodeShift) |
		n.sequence

	return ID(id)
}

// TimeOf 从 ID 中取出生成时间（毫秒）
func TimeOf(id int64) int64 {
	return (id >> timestampShift) + Epoch
}

// MinIDAt 返回在 ms 毫秒生成的最小 ID，早于起始时间的按 0 处理
func MinIDAt(ms int64) int64 {
	offset := ms - Epoch
	if offset <= 0 {
		return 0
	}
	if offset > maxTimestamp {
		offset = maxTimestamp
	}
	return offset << timestampShift
}

// MaxIDAt 返回在 ms 毫秒生成的最大 ID
func MaxIDAt(ms int64) int64 {
	if ms < Epoch {
		return -1
	}
	offset := ms - Epoch
	if offset >= maxTimestamp {
		return int64(^uint64(0) >> 1)
	}
	return (offset+1)<<timestampShift - 1
}
