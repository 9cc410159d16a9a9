// Package notification は通知サービスの内部実装を提供する。
//
// 外部フォーム（Google Forms等）からのWebhookを検証して通知として保存し、
// 接続中の管理画面へServer-Sent Eventsで配信する。通知の未読一覧、未読件数、
// 既読化も提供する。
//
// 処理の流れ:
//   - Ingestor: 共有シークレットの検証、ペイロードの型付け、ストアへの保存
//   - Hub: 保存に成功した通知を購読者へ非同期に配信する（遅い購読者は取りこぼす）
//   - Tracker: 未読から既読への遷移を1回の条件付き更新で行う
package notification
