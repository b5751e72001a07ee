package core

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// 复合字段 (map、嵌套结构体等) 使用确定性的 CBOR 编码
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	// 保证相同的值生成相同的字节，归档内容可复现
	Sort: cbor.SortCanonical,

	// 2. 浮点数必须使用 64 位表示
	ShortestFloat: cbor.ShortestFloatNone,

	// 3. 时间格式化为 Unix 整数
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 4. 禁止不定长编码
	IndefLength: cbor.IndefLengthForbidden,

	BigIntConvert: cbor.BigIntConvertShortest,
}

// 全局复用的编码模式
var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// --- 安全性配置 ---
	// 归档文件可能损坏，限制容器大小和嵌套深度，防止耗尽内存或栈
	MaxArrayElements: 100000,
	MaxMapPairs:      100000,
	MaxNestedLevels:  64,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	BignumTag:   cbor.BignumTagForbidden,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// EncodeValue 用规范 CBOR 编码任意值
func EncodeValue(v any) ([]byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return data, nil
}

// DecodeValue 通用的解码函数 (供外部使用)
func DecodeValue(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}
