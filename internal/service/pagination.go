package service

import (
	"iter"
	"math"
)

// Параметры пагинации по умолчанию и верхняя граница limit.
const (
	DefaultPage  = 0
	DefaultLimit = 10
	MaxLimit     = 1000
)

// PaginationParams — номер страницы (с нуля) и её размер.
type PaginationParams struct {
	Page  int
	Limit int
}

// Paginate возвращает окно [page*limit, page*limit+limit) ленивой
// последовательности. Источник перестаёт читаться, как только окно
// заполнено. Некорректные параметры и окно за пределами int дают
// пустую последовательность.
func Paginate[T any](seq iter.Seq[T], page, limit int) iter.Seq[T] {
	return func(yield func(T) bool) {
		if page < 0 || limit <= 0 {
			return
		}
		// page*limit+limit не должно переполнять int
		if page > (math.MaxInt-limit)/limit {
			return
		}
		start := page * limit
		end := start + limit

		i := 0
		for v := range seq {
			if i >= start && !yield(v) {
				return
			}
			i++
			if i >= end {
				return
			}
		}
	}
}
