package fixedpoint

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Impl selects the fixed-point encoding used to serialize tensor values for
// the provable inference backend. The name encodes integer and fractional
// bit widths, e.g. FP16x16 stores values as magnitude*2^16.
type Impl string

const (
	FP8x23  Impl = "FP8x23"
	FP16x16 Impl = "FP16x16"
	FP32x32 Impl = "FP32x32"
	FP64x64 Impl = "FP64x64"
)

var fractionalBits = map[Impl]uint{
	FP8x23:  23,
	FP16x16: 16,
	FP32x32: 32,
	FP64x64: 64,
}

// Parse validates an impl name.
func Parse(name string) (Impl, error) {
	impl := Impl(strings.TrimSpace(name))
	if _, ok := fractionalBits[impl]; !ok {
		return "", fmt.Errorf("不支持的定点数实现: %s", name)
	}
	return impl, nil
}

// One returns the scaling factor of the impl as a float.
func (i Impl) One() float64 {
	bits, ok := fractionalBits[i]
	if !ok {
		return 0
	}
	return math.Ldexp(1, int(bits))
}

// FromFloat converts a float into a magnitude/sign pair. The magnitude is
// always non-negative; the sign flag carries the sign the way the Orion
// FixedType does.
func (i Impl) FromFloat(value float64) (mag uint64, sign bool, err error) {
	one := i.One()
	if one == 0 {
		return 0, false, fmt.Errorf("不支持的定点数实现: %s", i)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false, fmt.Errorf("无法编码非有限值: %v", value)
	}
	scaled := math.Round(math.Abs(value) * one)
	if scaled >= math.MaxUint64 {
		return 0, false, fmt.Errorf("数值 %v 超出 %s 可表示范围", value, i)
	}
	return uint64(scaled), value < 0 && scaled != 0, nil
}

// ToFloat converts a magnitude/sign pair back into a float.
func (i Impl) ToFloat(mag uint64, sign bool) float64 {
	one := i.One()
	if one == 0 {
		return 0
	}
	value := float64(mag) / one
	if sign {
		return -value
	}
	return value
}

// Tensor is a dense float tensor with row-major data.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor builds a tensor and validates that the shape matches the data
// length. A nil shape is treated as a flat vector.
func NewTensor(shape []int, data []float64) (Tensor, error) {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	expected := 1
	for _, dim := range shape {
		if dim <= 0 {
			return Tensor{}, fmt.Errorf("非法的张量维度: %d", dim)
		}
		expected *= dim
	}
	if expected != len(data) {
		return Tensor{}, fmt.Errorf("张量形状 %v 与数据长度 %d 不匹配", shape, len(data))
	}
	return Tensor{Shape: shape, Data: data}, nil
}

// Serialize encodes the tensor in the calldata layout the Cairo runner
// expects: the shape span (length followed by dimensions), then the data
// span (length followed by magnitude/sign pairs). Tokens are space joined.
func Serialize(t Tensor, impl Impl) (string, error) {
	if _, ok := fractionalBits[impl]; !ok {
		return "", fmt.Errorf("不支持的定点数实现: %s", impl)
	}
	tokens := make([]string, 0, 2+len(t.Shape)+2*len(t.Data))
	tokens = append(tokens, strconv.Itoa(len(t.Shape)))
	for _, dim := range t.Shape {
		tokens = append(tokens, strconv.Itoa(dim))
	}
	tokens = append(tokens, strconv.Itoa(len(t.Data)))
	for _, value := range t.Data {
		mag, sign, err := impl.FromFloat(value)
		if err != nil {
			return "", err
		}
		tokens = append(tokens, strconv.FormatUint(mag, 10), boolToken(sign))
	}
	return strings.Join(tokens, " "), nil
}

// Deserialize parses a runner response in the same layout back into a float
// tensor.
func Deserialize(serialized string, impl Impl) (Tensor, error) {
	if _, ok := fractionalBits[impl]; !ok {
		return Tensor{}, fmt.Errorf("不支持的定点数实现: %s", impl)
	}
	tokens := strings.Fields(serialized)
	cursor := 0
	next := func() (string, error) {
		if cursor >= len(tokens) {
			return "", fmt.Errorf("序列化数据在第 %d 个 token 处被截断", cursor)
		}
		token := tokens[cursor]
		cursor++
		return token, nil
	}

	rank, err := nextInt(next)
	if err != nil {
		return Tensor{}, err
	}
	shape := make([]int, 0, rank)
	for i := 0; i < rank; i++ {
		dim, err := nextInt(next)
		if err != nil {
			return Tensor{}, err
		}
		shape = append(shape, dim)
	}

	count, err := nextInt(next)
	if err != nil {
		return Tensor{}, err
	}
	data := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		magToken, err := next()
		if err != nil {
			return Tensor{}, err
		}
		mag, err := strconv.ParseUint(magToken, 10, 64)
		if err != nil {
			return Tensor{}, fmt.Errorf("解析定点数幅值失败: %w", err)
		}
		signToken, err := next()
		if err != nil {
			return Tensor{}, err
		}
		sign, err := parseSign(signToken)
		if err != nil {
			return Tensor{}, err
		}
		data = append(data, impl.ToFloat(mag, sign))
	}
	if cursor != len(tokens) {
		return Tensor{}, fmt.Errorf("序列化数据包含 %d 个多余 token", len(tokens)-cursor)
	}
	return NewTensor(shape, data)
}

func nextInt(next func() (string, error)) (int, error) {
	token, err := next()
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("解析整数 token 失败: %w", err)
	}
	if value < 0 {
		return 0, fmt.Errorf("整数 token 不能为负: %d", value)
	}
	return value, nil
}

func parseSign(token string) (bool, error) {
	switch token {
	case "0", "false":
		return false, nil
	case "1", "true":
		return true, nil
	default:
		return false, fmt.Errorf("非法的符号 token: %s", token)
	}
}

func boolToken(sign bool) string {
	if sign {
		return "1"
	}
	return "0"
}
