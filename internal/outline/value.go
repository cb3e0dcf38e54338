// internal/outline/value.go
package outline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Kind JSON值的种类
type Kind int

const (
	KindLeaf Kind = iota
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "leaf"
	}
}

// Value 通用树值：叶子（标量）、数组或对象
type Value struct {
	Kind   Kind
	Scalar interface{} // 仅叶子使用：string、json.Number、bool 或 nil
	Items  []Value     // 仅数组使用
	Fields []Field     // 仅对象使用，保持原始键顺序
}

// Field 对象的一个键值对
type Field struct {
	Key   string
	Value Value
}

// Leaf 构造叶子
func Leaf(v interface{}) Value { return Value{Kind: KindLeaf, Scalar: v} }

// Array 构造数组
func Array(items ...Value) Value { return Value{Kind: KindArray, Items: items} }

// Object 构造对象
func Object(fields ...Field) Value { return Value{Kind: KindObject, Fields: fields} }

// Len 子节点数量
func (v Value) Len() int {
	switch v.Kind {
	case KindArray:
		return len(v.Items)
	case KindObject:
		return len(v.Fields)
	default:
		return 0
	}
}

// Parse 解析JSON，保持对象键的原始顺序
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("JSON末尾存在多余内容")
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return Leaf(tok), nil
	}

	switch delim {
	case '[':
		arr := Value{Kind: KindArray, Items: []Value{}}
		for dec.More() {
			item, err := parseValue(dec)
			if err != nil {
				return Value{}, err
			}
			arr.Items = append(arr.Items, item)
		}
		if _, err := dec.Token(); err != nil {
			return Value{}, err
		}
		return arr, nil
	case '{':
		obj := Value{Kind: KindObject, Fields: []Field{}}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return Value{}, err
			}
			key, _ := keyTok.(string)
			val, err := parseValue(dec)
			if err != nil {
				return Value{}, err
			}
			obj.Fields = append(obj.Fields, Field{Key: key, Value: val})
		}
		if _, err := dec.Token(); err != nil {
			return Value{}, err
		}
		return obj, nil
	default:
		return Value{}, fmt.Errorf("意外的JSON分隔符: %v", delim)
	}
}

// FromAny 把任意可序列化的值转换为树值
func FromAny(v interface{}) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	return Parse(data)
}

// Visitor 遍历树值时的回调
type Visitor interface {
	VisitLeaf(key string, value interface{})
	EnterArray(key string, length int)
	EnterObject(key string, keys []string)
	Leave()
}

// Walk 深度优先遍历，数组元素的键为其下标
func Walk(key string, v Value, visitor Visitor) {
	switch v.Kind {
	case KindArray:
		visitor.EnterArray(key, len(v.Items))
		for i, item := range v.Items {
			Walk(fmt.Sprint(i), item, visitor)
		}
		visitor.Leave()
	case KindObject:
		keys := make([]string, len(v.Fields))
		for i, f := range v.Fields {
			keys[i] = f.Key
		}
		visitor.EnterObject(key, keys)
		for _, f := range v.Fields {
			Walk(f.Key, f.Value, visitor)
		}
		visitor.Leave()
	default:
		visitor.VisitLeaf(key, v.Scalar)
	}
}

// TreeNode 与展示无关的树节点，供前端渲染
type TreeNode struct {
	Key      string      `json:"key"`
	Type     string      `json:"type"`
	Value    interface{} `json:"value,omitempty"`
	Summary  string      `json:"summary,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

type treeBuilder struct {
	root  *TreeNode
	stack []*TreeNode
}

func (b *treeBuilder) add(n *TreeNode) {
	if len(b.stack) == 0 {
		b.root = n
		return
	}
	parent := b.stack[len(b.stack)-1]
	parent.Children = append(parent.Children, n)
}

func (b *treeBuilder) VisitLeaf(key string, value interface{}) {
	b.add(&TreeNode{Key: key, Type: leafType(value), Value: value})
}

func (b *treeBuilder) EnterArray(key string, length int) {
	n := &TreeNode{Key: key, Type: KindArray.String(), Summary: fmt.Sprintf("%d items", length)}
	b.add(n)
	b.stack = append(b.stack, n)
}

func (b *treeBuilder) EnterObject(key string, keys []string) {
	n := &TreeNode{Key: key, Type: KindObject.String(), Summary: fmt.Sprintf("%d keys", len(keys))}
	b.add(n)
	b.stack = append(b.stack, n)
}

func (b *treeBuilder) Leave() {
	b.stack = b.stack[:len(b.stack)-1]
}

// BuildTree 把树值转换为展示树
func BuildTree(rootKey string, v Value) *TreeNode {
	b := &treeBuilder{}
	Walk(rootKey, v, b)
	return b.root
}

func leafType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return "string"
	}
}
