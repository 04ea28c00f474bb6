package apperr

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Indonesian is the second shipped locale.
var Indonesian = language.Indonesian

var messages = map[Code]map[language.Tag]string{
	CodeEmptyCart: {
		language.English: "Your cart is empty.",
		Indonesian:       "Keranjang Anda kosong.",
	},
	CodeMinimumNotMet: {
		language.English: "Minimum order for delivery is $%s.",
		Indonesian:       "Minimal pesanan untuk pengantaran adalah $%s.",
	},
	CodeLocationUnset: {
		language.English: "Please set your delivery location.",
		Indonesian:       "Silakan tentukan lokasi pengantaran.",
	},
	CodeOutOfRadius: {
		language.English: "Sorry, you are %.2f miles away. We deliver within %.1f miles.",
		Indonesian:       "Maaf, jarak Anda %.2f mil. Kami mengantar dalam radius %.1f mil.",
	},
	CodeInvalidPhone: {
		language.English: "Please enter a valid 10-digit phone number.",
		Indonesian:       "Masukkan nomor telepon 10 digit yang valid.",
	},
	CodeMissingRequiredOption: {
		language.English: "Please choose a %s.",
		Indonesian:       "Silakan pilih %s.",
	},
	CodeUnknownItem: {
		language.English: "This item is no longer available.",
		Indonesian:       "Menu ini sudah tidak tersedia.",
	},
	CodeUnknownOption: {
		language.English: "That %s choice is not available.",
		Indonesian:       "Pilihan %s tersebut tidak tersedia.",
	},
	CodeInvalidPlacement: {
		language.English: "%s can only go on the whole item.",
		Indonesian:       "%s hanya bisa untuk seluruh bagian.",
	},
	CodeTooManyChoices: {
		language.English: "Choose only one %s.",
		Indonesian:       "Pilih hanya satu %s.",
	},
	CodeLimitExceeded: {
		language.English: "You can choose up to %d %s.",
		Indonesian:       "Anda dapat memilih hingga %d %s.",
	},
	CodeMissingDestination: {
		language.English: "Please choose a table or a delivery address.",
		Indonesian:       "Silakan pilih meja atau alamat pengantaran.",
	},
	CodeTransitionNotAllowed: {
		language.English: "This order can't be moved to that status.",
		Indonesian:       "Pesanan ini tidak dapat dipindahkan ke status tersebut.",
	},
	CodeOrderNotFound: {
		language.English: "Order not found.",
		Indonesian:       "Pesanan tidak ditemukan.",
	},
	CodeSubmitFailed: {
		language.English: "We couldn't place your order. Please try again.",
		Indonesian:       "Pesanan gagal dibuat. Silakan coba lagi.",
	},
	CodeUpdateFailed: {
		language.English: "We couldn't update the order. Please try again.",
		Indonesian:       "Pesanan gagal diperbarui. Silakan coba lagi.",
	},
	CodeFetchFailed: {
		language.English: "We couldn't load orders right now.",
		Indonesian:       "Pesanan belum bisa dimuat.",
	},
	CodeJoinFailed: {
		language.English: "Live updates are unavailable.",
		Indonesian:       "Pembaruan langsung tidak tersedia.",
	},
	CodeNotConnected: {
		language.English: "Live updates are disconnected.",
		Indonesian:       "Pembaruan langsung terputus.",
	},
}

var (
	msgCatalog = buildCatalog()
	matcher    = language.NewMatcher([]language.Tag{language.English, Indonesian})
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for code, byLang := range messages {
		for tag, msg := range byLang {
			if err := b.SetString(tag, string(code), msg); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Render formats the catalog message for code in the best matching language.
func Render(tag language.Tag, code Code, args ...any) string {
	matched, _, _ := matcher.Match(tag)
	base, _ := matched.Base()
	p := message.NewPrinter(language.Make(base.String()), message.Catalog(msgCatalog))
	return p.Sprintf(string(code), args...)
}

// ParseLanguage maps an env-style locale ("id_ID.UTF-8", "en") to a tag.
func ParseLanguage(s string) language.Tag {
	if s == "" {
		return language.English
	}
	for i, r := range s {
		if r == '.' || r == '@' {
			s = s[:i]
			break
		}
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.English
	}
	return tag
}
