// Package timebucket は投稿や通知の作成日時をカレンダー単位のヒストグラムに集計する。
//
// 集計は純粋関数で、ストアへのアクセスは行わない。バケットの境界は指定された
// タイムゾーンのローカル時刻で計算し、ストアへの問い合わせ範囲が必要な場合のみ
// Window でUTCに戻す。
//
// 粒度ごとの範囲:
//   - daily:   基準日を末尾とする30日（データが無くても全バケットを返す）
//   - weekly:  基準日を含む週を末尾とする月曜始まりの12週（同上）
//   - monthly: 最古から最新のデータの月まで。末尾12か月のみ残す（データが無ければ空）
//   - all:     monthlyと同じで件数の上限なし
//   - yearly:  最古から最新のデータの年まで（データが無ければ空）
package timebucket
