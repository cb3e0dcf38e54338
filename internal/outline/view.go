// internal/outline/view.go
package outline

import (
	"fmt"
	"strings"

	"github.com/Meow711/story-generator-ui/internal/models"
)

// ExpandSet 哪些节点处于展开状态
type ExpandSet struct {
	all bool
	ids map[string]bool
}

// ExpandAll 展开所有节点
func ExpandAll() ExpandSet { return ExpandSet{all: true} }

// ExpandIDs 展开指定节点
func ExpandIDs(ids ...string) ExpandSet {
	set := ExpandSet{ids: make(map[string]bool, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set.ids[id] = true
		}
	}
	return set
}

// ParseExpand 解析查询参数：all 或逗号分隔的节点ID
func ParseExpand(param string) ExpandSet {
	if strings.TrimSpace(param) == "all" {
		return ExpandAll()
	}
	return ExpandIDs(strings.Split(param, ",")...)
}

// Has 节点是否展开
func (e ExpandSet) Has(id string) bool {
	return e.all || e.ids[id]
}

// ExpandControl 展开/折叠控件，只有有子节点的节点才有
type ExpandControl struct {
	Expanded bool   `json:"expanded"`
	Label    string `json:"label"`
}

// NodeView 大纲节点的展示模型
type NodeView struct {
	Label      string               `json:"label"`
	ID         string               `json:"id"`
	Text       string               `json:"text"`
	Scene      string               `json:"scene"`
	Characters []models.ContactUser `json:"characters"`
	ChildCount int                  `json:"child_count"`
	Expand     *ExpandControl       `json:"expand,omitempty"`
	Children   []NodeView           `json:"children,omitempty"`
}

// Render 渲染大纲。
// 角色引用按名字解析，找不到的引用直接忽略；只有展开的节点才包含子节点。
func Render(root models.OutlineNode, users []models.ContactUser, expand ExpandSet) NodeView {
	byName := make(map[string]models.ContactUser, len(users))
	for _, u := range users {
		byName[u.Name] = u
	}
	return renderNode(&root, -1, byName, expand)
}

func renderNode(node *models.OutlineNode, idx int, users map[string]models.ContactUser, expand ExpandSet) NodeView {
	view := NodeView{
		Label:      nodeLabel(node.ID, idx),
		ID:         node.ID,
		Text:       node.Text,
		Scene:      node.Scene,
		Characters: []models.ContactUser{},
		ChildCount: len(node.Children),
	}

	for _, name := range node.Entities {
		if u, ok := users[name]; ok {
			view.Characters = append(view.Characters, u)
		}
	}

	if !node.HasChildren() {
		return view
	}

	expanded := expand.Has(node.ID)
	view.Expand = &ExpandControl{Expanded: expanded, Label: controlLabel(expanded, len(node.Children))}
	if expanded {
		view.Children = make([]NodeView, 0, len(node.Children))
		for i := range node.Children {
			view.Children = append(view.Children, renderNode(&node.Children[i], i, users, expand))
		}
	}
	return view
}

func nodeLabel(id string, idx int) string {
	if idx < 0 {
		return "ID: " + id
	}
	return fmt.Sprintf("%d - ID: %s", idx, id)
}

func controlLabel(expanded bool, n int) string {
	if expanded {
		return fmt.Sprintf("Collapse %d Children", n)
	}
	return fmt.Sprintf("Expand %d Children", n)
}

// Levels 渲染结果中可达的节点层数
func (v NodeView) Levels() int {
	depth := 0
	for _, c := range v.Children {
		if d := c.Levels(); d > depth {
			depth = d
		}
	}
	return depth + 1
}

// ControlLevels 渲染结果中包含展开控件的层数
func (v NodeView) ControlLevels() int {
	if v.Expand == nil {
		return 0
	}
	depth := 0
	for _, c := range v.Children {
		if d := c.ControlLevels(); d > depth {
			depth = d
		}
	}
	return depth + 1
}
