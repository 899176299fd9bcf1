package extractor

import (
	"strings"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/shopspring/decimal"
)

// ParsePrice は価格テキストを数値に変換する。
// "1,234.56"（カンマ区切り）と"1.234,56"（ピリオド区切り）の両方式を許容する:
// 最後の区切り文字を小数点とみなし、それより前の桁区切りを全て除去して
// パースする。ただし同じ区切り文字が複数回現れる場合（"1,234,567"）と、
// 孤立した区切り文字の直後にちょうど3桁が続く場合（"1,980"）は
// 桁区切りとして扱い、整数としてパースする。
// 数値を検出できない場合はParseError(no_price_found)を返す。
// 0のデフォルト値を捏造することは決してない。
func ParsePrice(raw string) (decimal.Decimal, error) {
	// 数字と区切り文字以外（通貨記号・空白・nbsp等）を除去
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, raw)

	if cleaned == "" || !strings.ContainsAny(cleaned, "0123456789") {
		return decimal.Decimal{}, &model.ParseError{
			Reason: model.ParseReasonNoPriceFound,
			Detail: "数値が含まれていません",
		}
	}

	lastSep := strings.LastIndexAny(cleaned, ".,")

	var normalized string
	switch {
	case lastSep < 0:
		normalized = cleaned
	case isGroupingSeparator(cleaned, lastSep):
		// 桁区切りのみの整数（"1,980"、"1,234,567" 等）
		normalized = stripSeparators(cleaned)
	default:
		// 最後の区切り文字を小数点とみなす
		intPart := stripSeparators(cleaned[:lastSep])
		fracPart := cleaned[lastSep+1:]
		if fracPart == "" {
			// 末尾の区切り文字（"12." 等）は無視する
			normalized = intPart
		} else {
			normalized = intPart + "." + fracPart
		}
	}

	price, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, &model.ParseError{
			Reason: model.ParseReasonNoPriceFound,
			Detail: "数値への変換に失敗: " + normalized,
		}
	}

	return price, nil
}

// isGroupingSeparator は最後の区切り文字が小数点ではなく桁区切りかを判定する。
// 同じ区切り文字が複数回現れる場合は桁区切り（小数点は1つしか存在しない）。
// 区切り文字が1つだけで直後にちょうど3桁が続く場合も桁区切りとみなす。
func isGroupingSeparator(cleaned string, lastSep int) bool {
	if strings.Count(cleaned, string(cleaned[lastSep])) > 1 {
		return true
	}
	frac := cleaned[lastSep+1:]
	return len(frac) == 3 && !strings.ContainsAny(cleaned[:lastSep], ".,")
}

// stripSeparators は桁区切り文字を全て除去する。
func stripSeparators(s string) string {
	return strings.NewReplacer(".", "", ",", "").Replace(s)
}

// currencySymbols は通貨記号・略記からISO 4217コードへの対応表。
// ヒューリスティックであり、検出できない場合は設定のフォールバック通貨を使う。
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"R$", "BRL"},
	{"US$", "USD"},
	{"CA$", "CAD"},
	{"A$", "AUD"},
	{"$", "USD"},
	{"USD", "USD"},
	{"EUR", "EUR"},
	{"GBP", "GBP"},
	{"JPY", "JPY"},
	{"円", "JPY"},
}

// DetectCurrency は価格周辺のテキストから通貨コードを推定する。
// 検出できない場合は空文字列を返す（呼び出し元がフォールバックを適用する）。
func DetectCurrency(text string) string {
	for _, cs := range currencySymbols {
		if strings.Contains(text, cs.symbol) {
			return cs.code
		}
	}
	return ""
}
