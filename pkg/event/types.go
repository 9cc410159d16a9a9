package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/brgyportal/announce/pkg/store"
)

// Category はイベントの種類を表す。
type Category string

const (
	// CategoryBulletin は掲示板の投稿を表す。
	CategoryBulletin Category = "bulletin"
	// CategoryNews はニュースの投稿を表す。
	CategoryNews Category = "news"
	// CategoryNotification はフォーム送信による通知を表す。
	CategoryNotification Category = "notification"
	// CategoryMaintenance はシステムメンテナンスの告知を表す。
	CategoryMaintenance Category = "maintenance"
	// CategoryPatchNote はパッチノートを表す。
	CategoryPatchNote Category = "patch_note"
)

var categoryTables = map[Category]string{
	CategoryBulletin:     store.TableBulletinPosts,
	CategoryNews:         store.TableNewsPosts,
	CategoryNotification: store.TableNotifications,
	CategoryMaintenance:  store.TableSystemMaintenance,
	CategoryPatchNote:    store.TablePatchNotes,
}

// Table はカテゴリのイベントを格納するテーブル名を返す。
func (c Category) Table() (string, bool) {
	t, ok := categoryTables[c]
	return t, ok
}

// Event はEvent Storeに保存された1件のイベント（投稿、通知など）を表す。
// CreatedAtは常にUTCで保持し、表示用のタイムゾーン変換で書き換えない。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// CreatedAt はイベントが作成された日時（UTC）。
	CreatedAt time.Time `json:"created_at"`
	// Category はイベントの種類。
	Category Category `json:"category"`
	// Payload はid、created_at以外のカラム。
	Payload map[string]any `json:"payload"`
}

// FormType は外部フォームの種類を表す。
type FormType string

const (
	// FormCertificateRequest はバランガイ証明書の申請フォーム。
	FormCertificateRequest FormType = "brgy_certificate_request"
	// FormBusinessPermit は営業許可の申請フォーム。
	FormBusinessPermit FormType = "business_permit_request"
	// FormConcernReport は住民からの報告・相談フォーム。
	FormConcernReport FormType = "report_concern"
)

// Notification はフォーム送信から作られた通知を表す。
// 未読から既読への遷移のみを持つ。
type Notification struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// CreatedAt は送信日時（UTC）。
	CreatedAt time.Time `json:"created_at"`
	// FormType は送信元フォームの種類。
	FormType string `json:"form_type"`
	// Data はフォームの回答内容。
	Data map[string]any `json:"data"`
	// IsRead は既読かどうか。
	IsRead bool `json:"is_read"`
	// ReadAt は既読にした日時。未読の場合はnil。
	ReadAt *time.Time `json:"read_at"`
}

// ErrMissingField はフォームの必須項目が欠けていることを表す。
var ErrMissingField = errors.New("missing required field")

// Form はフォーム種別ごとに型付けされた回答内容。
type Form interface {
	// Type はフォームの種類を返す。
	Type() FormType
	// Validate は必須項目を検証する。
	Validate() error
}

// CertificateRequestForm はバランガイ証明書の申請内容。
type CertificateRequestForm struct {
	FullName string `json:"full_name"`
	Purpose  string `json:"purpose"`
	Address  string `json:"address,omitempty"`
	Contact  string `json:"contact_number,omitempty"`
}

func (CertificateRequestForm) Type() FormType { return FormCertificateRequest }

func (f CertificateRequestForm) Validate() error {
	return requireFields(f.Type(), map[string]string{"full_name": f.FullName, "purpose": f.Purpose})
}

// BusinessPermitForm は営業許可の申請内容。
type BusinessPermitForm struct {
	BusinessName    string `json:"business_name"`
	OwnerName       string `json:"owner_name"`
	BusinessAddress string `json:"business_address,omitempty"`
	Contact         string `json:"contact_number,omitempty"`
}

func (BusinessPermitForm) Type() FormType { return FormBusinessPermit }

func (f BusinessPermitForm) Validate() error {
	return requireFields(f.Type(), map[string]string{"business_name": f.BusinessName, "owner_name": f.OwnerName})
}

// ConcernReportForm は住民からの報告・相談の内容。
type ConcernReportForm struct {
	Category string `json:"category"`
	Details  string `json:"details"`
	Location string `json:"location,omitempty"`
	Reporter string `json:"reporter_name,omitempty"`
}

func (ConcernReportForm) Type() FormType { return FormConcernReport }

func (f ConcernReportForm) Validate() error {
	return requireFields(f.Type(), map[string]string{"category": f.Category, "details": f.Details})
}

// GenericForm は未知のフォーム種別の回答内容。項目は検証しない。
type GenericForm struct {
	FormType FormType
	Fields   map[string]any
}

func (f GenericForm) Type() FormType { return f.FormType }

func (GenericForm) Validate() error { return nil }

// requireFields は空の項目があればErrMissingFieldを返す。項目名の昇順で最初の1つを報告する。
func requireFields(ft FormType, fields map[string]string) error {
	var missing string
	for name, v := range fields {
		if v == "" && (missing == "" || name < missing) {
			missing = name
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s.%s", ErrMissingField, ft, missing)
	}
	return nil
}
