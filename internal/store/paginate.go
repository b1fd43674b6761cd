package store

import (
	"fmt"

	"gorm.io/gorm"
)

// LastPage 作为页码传入时表示最后一页。
const LastPage = -1

// Page 一页查询结果。
//
// 页码从 1 开始；超出范围的页码返回空列表而不是错误。
type Page[T any] struct {
	Items   []T
	Page    int
	PerPage int
	Total   int64
}

// Pages 总页数。
func (p Page[T]) Pages() int {
	if p.PerPage <= 0 || p.Total == 0 {
		return 0
	}
	return int((p.Total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

func (p Page[T]) HasPrev() bool { return p.Page > 1 }
func (p Page[T]) HasNext() bool { return p.Page < p.Pages() }
func (p Page[T]) PrevNum() int  { return p.Page - 1 }
func (p Page[T]) NextNum() int  { return p.Page + 1 }

// IterPages 返回分页导航要显示的页码，0 表示省略号。
//
// 显示首尾各 2 页、当前页之前 2 页和之后 4 页。
func (p Page[T]) IterPages() []int {
	const leftEdge, leftCurrent, rightCurrent, rightEdge = 2, 2, 5, 2

	var out []int
	last := 0
	pages := p.Pages()
	for num := 1; num <= pages; num++ {
		if num <= leftEdge ||
			(num > p.Page-leftCurrent-1 && num < p.Page+rightCurrent) ||
			num > pages-rightEdge {
			if last+1 != num {
				out = append(out, 0)
			}
			out = append(out, num)
			last = num
		}
	}
	return out
}

// Paginate 对 query 执行计数与分页查询。
//
// 参数:
//   - query: 已设置 Model、条件与排序的查询
//   - page: 页码，小于 1 时视为 1，LastPage 表示最后一页
//   - perPage: 每页条数，小于 1 时使用 20
//   - preloads: 只在取数据时预加载的关联，计数查询不受影响
func Paginate[T any](query *gorm.DB, page, perPage int, preloads ...string) (Page[T], error) {
	if perPage < 1 {
		perPage = 20
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Page[T]{}, fmt.Errorf("count: %w", err)
	}

	result := Page[T]{PerPage: perPage, Total: total}
	if page == LastPage {
		page = result.Pages()
	}
	if page < 1 {
		page = 1
	}
	result.Page = page

	// 先与总页数比较，避免超大页码在计算偏移量时溢出
	if page > result.Pages() {
		result.Items = []T{}
		return result, nil
	}

	find := query.Session(&gorm.Session{})
	for _, p := range preloads {
		find = find.Preload(p)
	}
	var items []T
	if err := find.Offset((page - 1) * perPage).Limit(perPage).Find(&items).Error; err != nil {
		return Page[T]{}, fmt.Errorf("find page: %w", err)
	}
	result.Items = items
	return result, nil
}
