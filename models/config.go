package models

// Config 構造体はサーバー起動時の設定情報を保持します。
type Config struct {
	ServerAddr     string   `json:"server_addr"`     // 例: ":8080"
	AllowedOrigins []string `json:"allowed_origins"` // CORSで許可するオリジン
}
