// Package logx はzerologをベースにした構造化ロガーを提供する。
//
// フィールドは String/Int/Err などのヘルパーで渡し、With で固定フィールドを
// 持つ派生ロガーを作成する。ゼロ値のLoggerは何も出力しない。
package logx
