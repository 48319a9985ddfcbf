package auth

import (
	"errors"
	"fmt"
)

// Kind はオーケストレーターが返すエラーの分類。HTTPステータスへの対応はハンドラー層で行う。
type Kind int

const (
	KindValidation Kind = iota + 1
	KindUnauthorized
	KindConflict
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// 利用者向けメッセージ
const (
	MsgAllFieldsRequired = "All fields are required (email, password, firstName, lastName)"
	MsgPasswordTooShort  = "Password must be at least 6 characters long"
	MsgInvalidEmail      = "Invalid email address"
	MsgPasswordTooLong   = "Password must be at most 72 bytes long"
	MsgEmailTaken        = "User with this email already exists"
	MsgInternal          = "Internal server error"
)

// ErrSessionNotEstablished は認証成功後にセッションを保存できなかったことを表す。
var ErrSessionNotEstablished = errors.New("session could not be established")

// AuthError はオーケストレーターの失敗を表す。
// Messageはクライアントに返してよい文言で、原因はErrにのみ保持する。
type AuthError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func validationError(msg string) *AuthError {
	return &AuthError{Kind: KindValidation, Message: msg}
}

func serverError(err error) *AuthError {
	return &AuthError{Kind: KindServerError, Message: MsgInternal, Err: err}
}

// KindOf はerrに含まれるAuthErrorの分類を返す。AuthErrorでない場合はKindServerError。
func KindOf(err error) Kind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindServerError
}
