// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 各サービスがEvent Storeサービスを呼び出す際に使用する。
// 2xx以外のレスポンスはStatusErrorとして返し、呼び出し側でステータスに応じた
// エラーへ変換できるようにする。
package httpclient
