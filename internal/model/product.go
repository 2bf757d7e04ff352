package model

import "time"

// Product は販売するWebサイトテンプレートを表す。
// 注文処理からは読み取り専用として扱う。
type Product struct {
	ID               string
	Slug             string
	Title            string
	ShortDescription string
	Description      string // サニタイズ済みHTML
	Category         string
	ThumbnailURL     string
	PreviewURL       string
	DownloadURL      string // 未設定の場合は空文字列
	Price            int64  // 通貨の最小単位
	Currency         string
	Published        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasDownload はダウンロード先が設定されているかを返す。
func (p *Product) HasDownload() bool {
	return p.DownloadURL != ""
}
