// internal/chat/avatars.go
package chat

import (
	"context"

	"github.com/Meow711/story-generator-ui/internal/models"
	"github.com/Meow711/story-generator-ui/internal/utils"
	"golang.org/x/sync/errgroup"
)

// DefaultAvatarConcurrency 0 表示每个联系人同时发起一个任务
const DefaultAvatarConcurrency = 0

// ImageGenerator 根据提示词生成一张图片并返回URL
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerateAvatars 为每个联系人并发生成头像（提示词为角色描述）。
// 等待全部任务结束，单个失败不影响整体：结果长度与顺序与输入一致，失败的联系人保留原头像。
func GenerateAvatars(ctx context.Context, gen ImageGenerator, users []models.ContactUser, limit int) []models.ContactUser {
	out := append([]models.ContactUser(nil), users...)
	if len(out) == 0 {
		return out
	}

	logger := utils.GetLogger()

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i := range out {
		i := i
		g.Go(func() error {
			url, err := gen.Generate(ctx, out[i].Description)
			if err != nil {
				logger.Warn("角色头像生成失败，保留原头像", map[string]interface{}{
					"name":  out[i].Name,
					"error": err.Error(),
				})
				return nil
			}
			out[i].Avatar = url
			return nil
		})
	}

	_ = g.Wait()
	return out
}

// RefreshAvatars 为当前联系人生成头像，并在全部结束后一次性合并
func (c *Chat) RefreshAvatars(ctx context.Context, gen ImageGenerator, limit int) []models.ContactUser {
	users := GenerateAvatars(ctx, gen, c.Users(), limit)
	c.MergeAvatars(users)
	return c.Users()
}
