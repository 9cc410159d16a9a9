package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brgyportal/announce/pkg/store"
)

// FromRecord はストアの行をイベントに変換する。
func FromRecord(c Category, rec store.Record) Event {
	e := Event{Category: c, Payload: make(map[string]any, len(rec))}
	for k, v := range rec {
		switch k {
		case store.ColumnID:
			e.ID, _ = v.(string)
		case store.ColumnCreatedAt:
			if t, ok := v.(time.Time); ok {
				e.CreatedAt = t.UTC()
			}
		default:
			e.Payload[k] = v
		}
	}
	return e
}

// CreatedTimes はイベントのcreated_atを取り出す。created_atを持たないイベントは飛ばす。
func CreatedTimes(events []Event) []time.Time {
	out := make([]time.Time, 0, len(events))
	for _, e := range events {
		if !e.CreatedAt.IsZero() {
			out = append(out, e.CreatedAt)
		}
	}
	return out
}

// NotificationFromRecord はnotificationsテーブルの行を通知に変換する。
func NotificationFromRecord(rec store.Record) (Notification, error) {
	var n Notification
	var ok bool
	if n.ID, ok = rec[store.ColumnID].(string); !ok || n.ID == "" {
		return Notification{}, fmt.Errorf("通知のidが不正です: %v", rec[store.ColumnID])
	}
	createdAt, ok := rec[store.ColumnCreatedAt].(time.Time)
	if !ok {
		return Notification{}, fmt.Errorf("通知 %s のcreated_atが不正です: %T", n.ID, rec[store.ColumnCreatedAt])
	}
	n.CreatedAt = createdAt.UTC()
	n.FormType, _ = rec["form_type"].(string)
	n.IsRead, _ = rec["is_read"].(bool)
	if t, ok := rec["read_at"].(time.Time); ok {
		t = t.UTC()
		n.ReadAt = &t
	}
	switch d := rec["data"].(type) {
	case map[string]any:
		n.Data = d
	case nil:
		n.Data = map[string]any{}
	default:
		return Notification{}, fmt.Errorf("通知 %s のdataがオブジェクトではありません: %T", n.ID, d)
	}
	return n, nil
}

// DecodeData は回答内容を指定された型にデシリアライズする。
func DecodeData[T any](data map[string]any) (*T, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("回答内容のシリアライズに失敗: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("回答内容のデシリアライズに失敗: %w", err)
	}
	return &out, nil
}

// DecodeForm はフォーム種別に応じて回答内容を型付けし、必須項目を検証する。
// 未知の種別はGenericFormとしてそのまま保持する。
func DecodeForm(ft FormType, data map[string]any) (Form, error) {
	var (
		form Form
		err  error
	)
	switch ft {
	case FormCertificateRequest:
		form, err = decodeAs[CertificateRequestForm](data)
	case FormBusinessPermit:
		form, err = decodeAs[BusinessPermitForm](data)
	case FormConcernReport:
		form, err = decodeAs[ConcernReportForm](data)
	default:
		return GenericForm{FormType: ft, Fields: data}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return form, nil
}

func decodeAs[T Form](data map[string]any) (Form, error) {
	v, err := DecodeData[T](data)
	if err != nil {
		return nil, err
	}
	return *v, nil
}
