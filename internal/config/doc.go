// Package config はサービス共通の設定を提供する。
//
// 設定はプロセス起動時に一度だけ読み込まれ、以降は変更されない。
// YAMLまたはJSONのファイルを読み込んだ後、環境変数で上書きする。
package config
