// Package repository 定义生成任务的数据访问接口
package repository

import (
	"context"
)

// TxKey 事务上下文键类型
type TxKey struct{}

// Transactor 事务管理接口；任务恢复等多条写入需要在同一事务中完成
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

const (
	// DefaultPageSize 任务列表默认每页条数
	DefaultPageSize = 20
	// MaxPageSize 单页上限，恢复扫描也按这个粒度分批
	MaxPageSize = 100
)

// Pagination 任务列表分页参数
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// NewPagination 页码从 1 开始；每页条数越界时回落到默认值或上限
func NewPagination(page, pageSize int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// normalized 零值或手工构造的参数按 NewPagination 的规则修正
func (p Pagination) normalized() Pagination {
	return NewPagination(p.Page, p.PageSize)
}

func (p Pagination) Offset() int {
	n := p.normalized()
	return (n.Page - 1) * n.PageSize
}

func (p Pagination) Limit() int {
	return p.normalized().PageSize
}

// PagedResult 分页结果；列表接口只返回任务元数据，不含章节正文
type PagedResult[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

func NewPagedResult[T any](items []T, total int64, pagination Pagination) *PagedResult[T] {
	p := pagination.normalized()
	totalPages := int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	if total <= 0 {
		totalPages = 0
	}
	return &PagedResult[T]{
		Items:      items,
		Total:      total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: totalPages,
	}
}
