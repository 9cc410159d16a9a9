// Package status はシステムメンテナンスの告知とパッチノートを参照するAPIを提供する。
//
// メンテナンスの「最新」は、現在時刻を含む期間のものを優先し、無ければ次に始まるものを返す。
// 開始時刻が同じ場合は作成日時の新しいもの、さらに同じならidの昇順で1件に決める。
package status
