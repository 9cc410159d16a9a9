package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/brgyportal/announce/pkg/event"
)

// Payload はWebhookのリクエストボディを型付けしたもの。
type Payload struct {
	// SecretKey はボディに含まれていた共有シークレット。
	SecretKey string
	// FormType は送信元フォームの種類。
	FormType event.FormType
	// Form はフォーム種別ごとに型付けされた回答内容。
	Form event.Form
	// Data は保存する回答内容。
	Data map[string]any
	// SubmittedAt は送信日時（UTC）。指定が無いか解釈できない場合はnil。
	SubmittedAt *time.Time
	// TimestampErr は送信日時を解釈できなかった理由。
	TimestampErr error
}

type wirePayload struct {
	SecretKey           string          `json:"secret_key"`
	FormType            string          `json:"form_type"`
	SubmissionTimestamp json.RawMessage `json:"submission_timestamp"`
	Data                json.RawMessage `json:"data"`
}

// ParsePayload はWebhookのボディを検証して型付けする。
// form_typeまたはdataが無い場合、dataがオブジェクトでない場合、既知のフォームの
// 必須項目が欠けている場合はErrMalformedPayloadを返す。
// submission_timestampは解釈できなくてもエラーにせず、TimestampErrに理由を残す。
func ParsePayload(raw []byte) (Payload, error) {
	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ft := strings.TrimSpace(w.FormType)
	if ft == "" {
		return Payload{}, fmt.Errorf("%w: form_type is required", ErrMalformedPayload)
	}

	data := bytes.TrimSpace(w.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Payload{}, fmt.Errorf("%w: data is required", ErrMalformedPayload)
	}
	if data[0] != '{' {
		return Payload{}, fmt.Errorf("%w: data must be an object", ErrMalformedPayload)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	form, err := event.DecodeForm(event.FormType(ft), fields)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	p := Payload{
		SecretKey: w.SecretKey,
		FormType:  event.FormType(ft),
		Form:      form,
		Data:      fields,
	}
	p.SubmittedAt, p.TimestampErr = parseTimestamp(w.SubmissionTimestamp)
	return p, nil
}

var (
	errTimestampNotString  = errors.New("submission_timestamp is not a string")
	errTimestampOutOfRange = errors.New("submission_timestamp is out of range")
)

// minSubmissionYear より前の送信日時は誤解釈とみなす。
const minSubmissionYear = 1970

// trailingOffset は末尾の "UTC+08:00" や " +0800" 形式のオフセットに一致する。
var trailingOffset = regexp.MustCompile(`(?:\s|UTC|GMT)([+-])(\d{2}):?(\d{2})$`)

// parseTimestamp は送信日時を寛容に解釈する。オフセットの無い値はUTCとみなす。
// RFC3339を先に試し、それ以外はdateparseで解釈する。
func parseTimestamp(raw json.RawMessage) (*time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errTimestampNotString
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return nil, err
		}
		t = applyTrailingOffset(s, t)
	}
	if t.Year() < minSubmissionYear {
		return nil, fmt.Errorf("%w: %q", errTimestampOutOfRange, s)
	}
	t = t.UTC()
	return &t, nil
}

// applyTrailingOffset は末尾に明示されたオフセットが解釈結果に反映されていない場合、
// 壁時計の値をそのオフセットの時刻として付け直す。
func applyTrailingOffset(s string, t time.Time) time.Time {
	m := trailingOffset.FindStringSubmatch(s)
	if m == nil {
		return t
	}
	hh, _ := strconv.Atoi(m[2])
	mm, _ := strconv.Atoi(m[3])
	offset := hh*3600 + mm*60
	if m[1] == "-" {
		offset = -offset
	}
	if _, got := t.Zone(); got == offset {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		time.FixedZone("", offset))
}

// presentedSecret はAuthorizationヘッダーのBearerトークンを優先し、無ければボディのsecret_keyを返す。
func presentedSecret(raw []byte, authorization string) string {
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	var w struct {
		SecretKey string `json:"secret_key"`
	}
	if err := json.Unmarshal(raw, &w); err == nil {
		return w.SecretKey
	}
	return ""
}
