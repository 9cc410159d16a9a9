// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// パニックリカバリ、リクエストログとメトリクス、CORS設定、
// 管理者トークンの検証、Webhookのレート制限を含む。
package middleware
