package cache

import (
	"context"
	"fmt"
	"time"
)

func pageKey(tag string, page int) string {
	return fmt.Sprintf("%s%s:page:%d", PrefixListing, tag, page)
}

func totalPagesKey(tag string) string {
	return fmt.Sprintf("%s%s:total_pages", PrefixListing, tag)
}

// SetPageCache 将 items 按 pageSize 切页写入 listing:{tag}:page:{n}，
// 并写入 listing:{tag}:total_pages，返回页数
func SetPageCache[T any](ctx context.Context, l *Layer, tag string, items []T, ttl time.Duration, pageSize int) (int, error) {
	if pageSize <= 0 {
		return 0, fmt.Errorf("cache: 非法的分页大小 %d", pageSize)
	}

	pages := (len(items) + pageSize - 1) / pageSize
	for i := 0; i < pages; i++ {
		end := (i + 1) * pageSize
		if end > len(items) {
			end = len(items)
		}
		if err := l.Set(ctx, pageKey(tag, i+1), items[i*pageSize:end], ttl); err != nil {
			return 0, err
		}
	}
	// 页写完后再写页数，读到页数即可读到所有页
	if err := l.Set(ctx, totalPagesKey(tag), pages, ttl); err != nil {
		return 0, err
	}
	return pages, nil
}

// GetPageCache 读取第 page 页，未命中返回空切片
func GetPageCache[T any](ctx context.Context, l *Layer, tag string, page, pageSize int) ([]T, error) {
	var items []T
	ok, err := l.Get(ctx, pageKey(tag, page), &items)
	if err != nil {
		return []T{}, err
	}
	if !ok || items == nil {
		return []T{}, nil
	}
	if pageSize > 0 && len(items) > pageSize {
		items = items[:pageSize]
	}
	return items, nil
}

// TotalPages 读取页数，未命中返回 (0, false, nil)
func TotalPages(ctx context.Context, l *Layer, tag string) (int, bool, error) {
	var pages int
	ok, err := l.Get(ctx, totalPagesKey(tag), &pages)
	if err != nil || !ok {
		return 0, false, err
	}
	return pages, true, nil
}

// DeletePageCache 删除某个 tag 的所有分页
func DeletePageCache(ctx context.Context, l *Layer, tag string) error {
	return l.DeletePrefix(ctx, PrefixListing+tag+":")
}
