// Package eventstore はEvent StoreサービスのHTTP実装を提供する。
//
// ローカルのバックエンド（SQLite、PostgreSQL、インメモリ）をstore.Storeとして受け取り、
// 挿入・条件付き更新・検索・削除の4操作をJSON APIとして公開する。
// 他のサービスはpkg/store/remotestore経由でこのAPIを利用する。
//
// エンドポイント:
//   - POST  /api/v1/tables/:table         行の挿入
//   - PATCH /api/v1/tables/:table         条件付き更新（{filter, patch}）
//   - POST  /api/v1/tables/:table/query   検索（{filter, order, limit}）
//   - POST  /api/v1/tables/:table/delete  削除（{filter}）
package eventstore
