// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 管理画面とWebhook送信元にとって唯一の入口となり、パスに応じて
// 通知サービスとAnalyticsサービスへリクエストを転送する。CORSはここで一括して扱い、
// 転送先が付けたCORSヘッダーは取り除く。SSEのストリームはバッファせずに中継する。
package gateway
