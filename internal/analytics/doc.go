// Package analytics は掲示板とニュースの投稿数をグラフ用に集計するAnalyticsサービスを提供する。
//
// 集計はpkg/timebucketの純粋関数で行い、このパッケージはクエリパラメータの検証、
// ストアからの取得、レスポンスへの整形を担う。メンテナンス告知とパッチノートの参照APIも
// 同じサーバーに載せる。
package analytics
