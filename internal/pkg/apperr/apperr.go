// Package apperr 定义业务层与 HTTP 层共用的错误分类。
package apperr

import (
	"errors"
	"net/http"
)

// Kind 是错误类别。
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindActivationRequired
	KindForbidden
	KindNotFound
	KindConflict
	KindTooManyRequests
	KindUpstream
)

var kindStatus = map[Kind]int{
	KindInternal:           http.StatusInternalServerError,
	KindBadRequest:         http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindActivationRequired: http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindConflict:           http.StatusConflict,
	KindTooManyRequests:    http.StatusTooManyRequests,
	KindUpstream:           http.StatusBadGateway,
}

// Error 是带类别的错误。Message 可直接返回给客户端，Err 为底层原因，仅写入日志。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is 在类别与消息都相同时匹配，使哨兵错误可用于 errors.Is。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Message: msg, Err: err} }

func BadRequest(msg string) *Error   { return New(KindBadRequest, msg) }
func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error    { return New(KindForbidden, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }

// KindOf 返回 err 的类别，未分类的错误视为 KindInternal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Status 将 err 映射为 HTTP 状态码。
func Status(err error) int {
	return kindStatus[KindOf(err)]
}

// Message 返回面向客户端的错误信息。
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "Something went wrong"
}
