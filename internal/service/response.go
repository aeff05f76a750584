// Package service implements the business operations of botmaster. Every
// operation returns a Response envelope and never a raw storage error.
package service

import (
	"net/http"

	"botmaster/internal/store"
)

// Response is the envelope every service operation produces.
type Response[T any] struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ResponseObject T      `json:"responseObject"`
	StatusCode     int    `json:"statusCode"`
}

func ok[T any](message string, obj T) Response[T] {
	return Response[T]{Success: true, Message: message, ResponseObject: obj, StatusCode: http.StatusOK}
}

func created[T any](message string, obj T) Response[T] {
	return Response[T]{Success: true, Message: message, ResponseObject: obj, StatusCode: http.StatusCreated}
}

func failure[T any](o Outcome) Response[T] {
	var zero T
	return Response[T]{Success: false, Message: o.Message, ResponseObject: zero, StatusCode: o.Status}
}

// Paged is one page of a listing.
type Paged[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
}

func newPaged[T any](items []T, total int64, page store.Page) Paged[T] {
	page = page.Normalize()
	if items == nil {
		items = []T{}
	}
	pages := int((total + int64(page.PageSize) - 1) / int64(page.PageSize))
	return Paged[T]{
		Items:      items,
		Total:      total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: pages,
	}
}
