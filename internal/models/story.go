// internal/models/story.go
package models

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// PremiseResult 前提生成阶段的输出（premise.json）
type PremiseResult struct {
	Title   string `json:"title" validate:"required"`
	Premise string `json:"premise" validate:"required"`
}

// Validate 校验必填字段
func (p *PremiseResult) Validate() error {
	return getValidator().Struct(p)
}

// Entity 计划中生成的一个角色
type Entity struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// OutlineNode 故事大纲树的一个节点
type OutlineNode struct {
	ID       string        `json:"id" validate:"required"`
	Text     string        `json:"text"`
	Scene    string        `json:"scene"`
	Entities []string      `json:"entities"`
	Children []OutlineNode `json:"children" validate:"dive"`
}

// HasChildren 节点是否有子节点
func (n *OutlineNode) HasChildren() bool {
	return len(n.Children) > 0
}

// Plan 计划生成阶段的输出（plan.json）
type Plan struct {
	Premise  *PremiseResult `json:"premise,omitempty"`
	Setting  string         `json:"setting"`
	Entities []Entity       `json:"entities" validate:"unique=Name,dive"`
	Outline  OutlineNode    `json:"outline"`
}

// Validate 校验字段，并检查大纲节点ID在计划内唯一
func (p *Plan) Validate() error {
	if err := getValidator().Struct(p); err != nil {
		return err
	}

	seen := make(map[string]bool)
	var walk func(n *OutlineNode) error
	walk = func(n *OutlineNode) error {
		if seen[n.ID] {
			return fmt.Errorf("大纲节点ID重复: %s", n.ID)
		}
		seen[n.ID] = true
		for i := range n.Children {
			if err := walk(&n.Children[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(&p.Outline)
}

// GenerationInput 计划阶段传给生成脚本的参数
type GenerationInput struct {
	UserPremise string `json:"user_premise,omitempty"`
	Title       string `json:"title,omitempty"`
	Premise     string `json:"premise,omitempty"`
}
