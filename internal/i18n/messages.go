package i18n

// Key は認証フローが返すメッセージキー。
type Key string

const (
	KeyAllFieldsRequired       Key = "all_fields_required"
	KeyPasswordsDontMatch      Key = "passwords_dont_match"
	KeyPasswordTooShort        Key = "password_too_short"
	KeyEmailRequired           Key = "email_required"
	KeyOldPasswordRequired     Key = "old_password_required"
	KeyEmailNotConfirmed       Key = "email_not_confirmed"
	KeyInvalidCredentials      Key = "invalid_credentials"
	KeyEmailAlreadyRegistered  Key = "email_already_registered"
	KeyWeakPassword            Key = "weak_password"
	KeyRateLimited             Key = "rate_limited"
	KeyUnknownError            Key = "unknown_error"
	KeyLoginSuccess            Key = "login_success"
	KeyRegisterSuccess         Key = "register_success"
	KeyResetEmailSent          Key = "reset_email_sent"
	KeyResetEmailFailed        Key = "reset_email_failed"
	KeyUseEmailLink            Key = "use_email_link"
	KeyLinkExpired             Key = "link_expired"
	KeyOldPasswordIncorrect    Key = "old_password_incorrect"
	KeyPasswordUpdated         Key = "password_updated"
	KeyPasswordUpdateFailed    Key = "password_update_failed"
	KeyConfirmReady            Key = "confirm_ready"
	KeyConfirmSuccess          Key = "confirm_success"
	KeyConfirmFailed           Key = "confirm_failed"
	KeyInvalidConfirmationLink Key = "invalid_confirmation_link"
	KeyFlowInFlight            Key = "flow_in_flight"
)

// AllKeys は登録済みのすべてのキーを返す。
func AllKeys() []Key {
	return []Key{
		KeyAllFieldsRequired, KeyPasswordsDontMatch, KeyPasswordTooShort, KeyEmailRequired,
		KeyOldPasswordRequired, KeyEmailNotConfirmed, KeyInvalidCredentials, KeyEmailAlreadyRegistered,
		KeyWeakPassword, KeyRateLimited, KeyUnknownError, KeyLoginSuccess, KeyRegisterSuccess,
		KeyResetEmailSent, KeyResetEmailFailed, KeyUseEmailLink, KeyLinkExpired, KeyOldPasswordIncorrect,
		KeyPasswordUpdated, KeyPasswordUpdateFailed, KeyConfirmReady, KeyConfirmSuccess, KeyConfirmFailed,
		KeyInvalidConfirmationLink, KeyFlowInFlight,
	}
}

var catalog = map[Lang]map[Key]string{
	Georgian: {
		KeyAllFieldsRequired:       "ყველა ველის შევსება სავალდებულოა",
		KeyPasswordsDontMatch:      "პაროლები არ ემთხვევა",
		KeyPasswordTooShort:        "პაროლი უნდა იყოს მინიმუმ 6 სიმბოლო",
		KeyEmailRequired:           "შეიყვანეთ ელ-ფოსტა",
		KeyOldPasswordRequired:     "ძველი პაროლის შეყვანა აუცილებელია",
		KeyEmailNotConfirmed:       "გთხოვთ, დაადასტუროთ თქვენი ელ-ფოსტის მისამართი.",
		KeyInvalidCredentials:      "შეცდომა: არასწორი ელ-ფოსტა ან პაროლი",
		KeyEmailAlreadyRegistered:  "ეს ელ-ფოსტა უკვე რეგისტრირებულია",
		KeyWeakPassword:            "პაროლი ძალიან სუსტია",
		KeyRateLimited:             "ძალიან ბევრი მცდელობა. სცადეთ მოგვიანებით",
		KeyUnknownError:            "დაფიქსირდა შეცდომა. გთხოვთ ისევ სცადოთ.",
		KeyLoginSuccess:            "✅ წარმატებით შეხვედით",
		KeyRegisterSuccess:         "✅ რეგისტრაცია წარმატებულია! შეამოწმეთ ელ-ფოსტა დასადასტურებლად.",
		KeyResetEmailSent:          "✅ პაროლის აღდგენის ბმული გაიგზავნა ელ-ფოსტაზე",
		KeyResetEmailFailed:        "❌ ბმულის გაგზავნა ვერ მოხერხდა",
		KeyUseEmailLink:            "პაროლის აღდგენისთვის გამოიყენეთ ბმული ელ-ფოსტიდან",
		KeyLinkExpired:             "ბმული ვადაგასულია ან არასწორია. ახალი ბმული მოითხოვეთ",
		KeyOldPasswordIncorrect:    "❌ შეყვანილი ძველი პაროლი არასწორია",
		KeyPasswordUpdated:         "✅ პაროლი წარმატებით განახლდა",
		KeyPasswordUpdateFailed:    "❌ პაროლის განახლება ვერ მოხერხდა",
		KeyConfirmReady:            "✅ დადასტურება",
		KeyConfirmSuccess:          "✅ ელ-ფოსტა წარმატებით დადასტურდა! ახლა შეგიძლიათ შემოხვიდეთ.",
		KeyConfirmFailed:           "❌ დადასტურების შეცდომა. გთხოვთ ისევ სცადოთ.",
		KeyInvalidConfirmationLink: "❌ არასწორი დადასტურების ბმული.",
		KeyFlowInFlight:            "შემოწმება...",
	},
	English: {
		KeyAllFieldsRequired:       "All fields are required",
		KeyPasswordsDontMatch:      "Passwords do not match",
		KeyPasswordTooShort:        "Password must be at least 6 characters",
		KeyEmailRequired:           "Please enter your email",
		KeyOldPasswordRequired:     "Old password is required",
		KeyEmailNotConfirmed:       "Please confirm your email address.",
		KeyInvalidCredentials:      "Error: Invalid email or password",
		KeyEmailAlreadyRegistered:  "This email is already registered",
		KeyWeakPassword:            "Password is too weak",
		KeyRateLimited:             "Too many attempts. Please try again later",
		KeyUnknownError:            "Something went wrong. Please try again.",
		KeyLoginSuccess:            "✅ Signed in successfully",
		KeyRegisterSuccess:         "✅ Registration successful! Check your email to confirm your account.",
		KeyResetEmailSent:          "✅ Password reset email sent",
		KeyResetEmailFailed:        "❌ Could not send the reset email",
		KeyUseEmailLink:            "Please use the reset link from your email",
		KeyLinkExpired:             "Reset link is expired or invalid. Please request a new link",
		KeyOldPasswordIncorrect:    "❌ The old password you entered is incorrect",
		KeyPasswordUpdated:         "✅ Password updated successfully",
		KeyPasswordUpdateFailed:    "❌ Could not update the password",
		KeyConfirmReady:            "✅ Confirm Email",
		KeyConfirmSuccess:          "✅ Email confirmed successfully! You can now sign in.",
		KeyConfirmFailed:           "❌ Confirmation error. Please try again.",
		KeyInvalidConfirmationLink: "❌ Invalid confirmation link.",
		KeyFlowInFlight:            "Checking...",
	},
}
