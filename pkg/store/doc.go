// Package store はEvent Store（外部のテーブルサービス）との境界を定義する。
//
// コアが依存するのは Insert / Update / Select / Delete の4操作のみで、
// 通信プロトコルやバックエンドの種類には依存しない。バックエンドの実装は
// memstore（テスト・開発用）、sqlitestore、pgstore、remotestore にある。
//
// テーブルとカラムの型はカタログ（tables.go）で定義し、すべてのバックエンドが
// 書き込み時に値を正規化する。時刻は常にUTCで保存される。
package store
