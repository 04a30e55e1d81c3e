package authflow

import (
	"strings"
	"unicode/utf8"

	"github.com/Djangliori/task-new-app/internal/i18n"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// ValidateLogin はログインフォームを検証する。問題がなければ空のキーを返す。
func ValidateLogin(email, password string) i18n.Key {
	if strings.TrimSpace(email) == "" || password == "" {
		return i18n.KeyAllFieldsRequired
	}
	return ""
}

// ValidateRegister は登録フォームを検証する。
// 必須項目、パスワード一致、パスワード長の順に確認する。
func ValidateRegister(firstName, lastName, email, password, confirm string) i18n.Key {
	if strings.TrimSpace(firstName) == "" ||
		strings.TrimSpace(lastName) == "" ||
		strings.TrimSpace(email) == "" ||
		strings.TrimSpace(password) == "" {
		return i18n.KeyAllFieldsRequired
	}
	if password != confirm {
		return i18n.KeyPasswordsDontMatch
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return i18n.KeyPasswordTooShort
	}
	return ""
}

// ValidateForgot はパスワード再設定メール要求フォームを検証する。
func ValidateForgot(email string) i18n.Key {
	if strings.TrimSpace(email) == "" {
		return i18n.KeyEmailRequired
	}
	return ""
}

// ValidateReset はパスワード再設定フォームを検証する。
func ValidateReset(oldPassword, newPassword, confirm string) i18n.Key {
	if oldPassword == "" {
		return i18n.KeyOldPasswordRequired
	}
	if newPassword == "" || confirm == "" {
		return i18n.KeyAllFieldsRequired
	}
	if newPassword != confirm {
		return i18n.KeyPasswordsDontMatch
	}
	if utf8.RuneCountInString(newPassword) < MinPasswordLength {
		return i18n.KeyPasswordTooShort
	}
	return ""
}
