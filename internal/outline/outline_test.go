package outline

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/Meow711/story-generator-ui/internal/models"
)

func chain(depth int) models.OutlineNode {
	node := models.OutlineNode{ID: "n" + string(rune('0'+depth)), Children: []models.OutlineNode{}}
	if depth > 1 {
		node.Children = []models.OutlineNode{chain(depth - 1)}
	}
	return node
}

func TestRenderDepth(t *testing.T) {
	for depth := 1; depth <= 5; depth++ {
		root := chain(depth)

		view := Render(root, nil, ExpandAll())
		if view.Levels() != depth {
			t.Errorf("深度 %d 的树全部展开后应有 %d 层，实际为 %d", depth, depth, view.Levels())
		}
		if view.ControlLevels() != depth-1 {
			t.Errorf("深度 %d 的树应有 %d 层展开控件，实际为 %d", depth, depth-1, view.ControlLevels())
		}

		collapsed := Render(root, nil, ExpandIDs())
		if collapsed.Levels() != 1 {
			t.Errorf("未展开时只应渲染根节点")
		}
	}
}

func TestLeafHasNoExpandControl(t *testing.T) {
	view := Render(models.OutlineNode{ID: "1", Children: []models.OutlineNode{}}, nil, ExpandAll())
	if view.Expand != nil {
		t.Fatal("没有子节点的节点不应有展开控件")
	}
}

func TestRenderLabelsAndEntities(t *testing.T) {
	root := models.OutlineNode{
		ID:       "1",
		Entities: []string{"Alex", "Ghost"},
		Children: []models.OutlineNode{
			{ID: "1.1", Entities: []string{"Robot"}},
			{ID: "1.2"},
		},
	}
	users := []models.ContactUser{
		{Name: "Alex", Avatar: "a.png"},
		{Name: "Robot", Avatar: "r.png"},
	}

	view := Render(root, users, ParseExpand("1"))
	if view.Label != "ID: 1" {
		t.Errorf("根节点标签错误: %q", view.Label)
	}
	if len(view.Characters) != 1 || view.Characters[0].Name != "Alex" || view.Characters[0].Avatar != "a.png" {
		t.Errorf("悬空引用应被忽略，实际为 %+v", view.Characters)
	}
	if view.Expand == nil || !view.Expand.Expanded || view.Expand.Label != "Collapse 2 Children" {
		t.Errorf("展开控件错误: %+v", view.Expand)
	}
	if len(view.Children) != 2 {
		t.Fatalf("应渲染 2 个子节点，实际为 %d", len(view.Children))
	}
	if view.Children[1].Label != "1 - ID: 1.2" {
		t.Errorf("子节点标签错误: %q", view.Children[1].Label)
	}
	if view.Children[0].Characters[0].Name != "Robot" {
		t.Errorf("子节点角色解析错误")
	}

	collapsed := Render(root, users, ParseExpand(""))
	if collapsed.Expand.Label != "Expand 2 Children" || collapsed.Children != nil {
		t.Errorf("折叠状态错误: %+v", collapsed)
	}
}

func TestParsePreservesKeyOrder(t *testing.T) {
	v, err := Parse([]byte(`{"setting":"S","entities":[{"name":"A"}],"count":2,"ok":true,"none":null}`))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if v.Kind != KindObject || v.Len() != 5 {
		t.Fatalf("顶层应为5个键的对象")
	}
	keys := []string{}
	for _, f := range v.Fields {
		keys = append(keys, f.Key)
	}
	if !reflect.DeepEqual(keys, []string{"setting", "entities", "count", "ok", "none"}) {
		t.Errorf("键顺序错误: %v", keys)
	}

	tree := BuildTree("root", v)
	if tree.Summary != "5 keys" || len(tree.Children) != 5 {
		t.Errorf("树根错误: %+v", tree)
	}
	if tree.Children[1].Type != "array" || tree.Children[1].Summary != "1 items" {
		t.Errorf("数组节点错误: %+v", tree.Children[1])
	}
	if tree.Children[2].Type != "number" || tree.Children[3].Type != "boolean" || tree.Children[4].Type != "null" {
		t.Errorf("叶子类型错误")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	if _, err := Parse([]byte(`{} {}`)); err == nil {
		t.Error("多余内容应返回错误")
	}
	if _, err := Parse([]byte(`{"a":`)); err == nil {
		t.Error("不完整的JSON应返回错误")
	}
}

func TestFromAnyPlan(t *testing.T) {
	plan := models.Plan{Setting: "S", Outline: models.OutlineNode{ID: "1"}}
	v, err := FromAny(plan)
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	tree := BuildTree("plan", v)
	data, err := json.Marshal(tree)
	if err != nil || len(data) == 0 {
		t.Fatalf("序列化展示树失败: %v", err)
	}
	if tree.Children[0].Key != "setting" {
		t.Errorf("应保持结构体字段顺序，实际首个键为 %q", tree.Children[0].Key)
	}
}
