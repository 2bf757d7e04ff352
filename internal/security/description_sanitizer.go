// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DescriptionSanitizer は管理画面から登録されるテンプレート説明文のHTMLを
// 許可リストベースのbluemondayポリシーでサニタイズする。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DescriptionSanitizer はテンプレート説明文のサニタイズ機能を定義する。
type DescriptionSanitizer interface {
	// Sanitize は説明文HTMLから許可されていない要素と属性を除去する。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

// descriptionSanitizer はDescriptionSanitizerの実装。
// bluemonday.Policyは構築後の並行利用が安全。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer は説明文用のポリシーを構築する。
//   - 見出し(h2〜h4)、段落、リスト、引用、コード、強調
//   - a: httpsとmailtoのみ。target="_blank"とrel="noopener noreferrer"を付与
//   - img: httpsのsrcとaltのみ
//   - script, iframe, style, form, on*属性, style属性は除去
func NewDescriptionSanitizer() *descriptionSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h2", "h3", "h4",
		"p", "br", "hr",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemes("https", "mailto")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &descriptionSanitizer{policy: p}
}

// Sanitize は説明文HTMLをサニタイズする。前後の空白は取り除く。
func (s *descriptionSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}
