// Package i18n translates user-facing HTTP error strings. English is the
// source language and Persian is the only catalogue.
package i18n

import "strings"

var translations = map[string]string{
	"invalid request":                              "درخواست نامعتبر است",
	"failed to generate token":                     "خطا در تولید توکن",
	"failed to register user":                      "خطا در ثبت نام کاربر",
	"missing authorization token":                  "توکن احراز هویت ارسال نشده است",
	"invalid token":                                "توکن نامعتبر است",
	"failed to validate user":                      "خطا در اعتبارسنجی کاربر",
	"user not found":                               "کاربر یافت نشد",
	"room not found":                               "گروه یافت نشد",
	"unauthorized":                                 "دسترسی غیرمجاز",
	"invalid user id":                              "شناسه کاربر نامعتبر است",
	"invalid room id":                              "شناسه گروه نامعتبر است",
	"not a room member":                            "شما عضو این گروه نیستید",
	"failed to fetch messages":                     "خطا در دریافت پیام ها",
	"failed to fetch conversations":                "خطا در دریافت مکالمه ها",
	"failed to fetch rooms":                        "خطا در دریافت گروه ها",
	"failed to fetch user":                         "خطا در دریافت کاربر",
	"failed to update messages":                    "خطا در به روزرسانی پیام ها",
	"invalid public key":                           "کلید عمومی نامعتبر است",
	"public key required":                          "کلید عمومی الزامی است",
	"failed to update key":                         "خطا در به روزرسانی کلید",
	"key mismatch":                                 "کلید عمومی مطابقت ندارد",
	"websocket upgrade failed":                     "خطا در برقراری اتصال وب سوکت",
	"rate limiter error":                           "خطا در محدودسازی درخواست ها",
	"rate limit exceeded":                          "تعداد درخواست ها بیش از حد مجاز است",
	"internal server error":                        "خطای داخلی سرور",
	"not found":                                    "یافت نشد",
	"username already exists":                      "این نام کاربری قبلا ثبت شده است",
	"invalid username or password":                 "نام کاربری یا رمز عبور اشتباه است",
	"password must be at least 6 characters":       "رمز عبور باید حداقل ۶ کاراکتر باشد",
	"username must be between 3 and 32 characters": "نام کاربری باید بین ۳ تا ۳۲ کاراکتر باشد",
	"username can only contain letters, numbers, and underscores": "نام کاربری فقط می تواند شامل حروف، اعداد و زیرخط باشد",
}

var prefixTranslations = map[string]string{
	"failed to hash password:":   "خطا در پردازش رمز عبور",
	"failed to register user:":   "خطا در ثبت نام کاربر",
	"failed to query user:":      "خطا در دریافت اطلاعات کاربر",
	"failed to sign token:":      "خطا در امضای توکن",
	"failed to parse token:":     "توکن نامعتبر است",
	"unexpected signing method:": "روش امضای توکن نامعتبر است",
}

// Translate returns the Persian form of message, or message itself when the
// catalogue has no entry.
func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}

// Localize translates message when the first language in an Accept-Language
// header is Persian.
func Localize(acceptLanguage, message string) string {
	if Preferred(acceptLanguage) == "fa" {
		return Translate(message)
	}
	return message
}

// Preferred returns the primary subtag of the highest ranked language, in
// lower case. Quality values are ignored; browsers list languages in order.
func Preferred(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	first, _, _ = strings.Cut(strings.TrimSpace(first), "-")
	return strings.ToLower(first)
}
