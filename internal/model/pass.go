// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// DefaultRetentionLimit は1人の教員パーティションに保持するパスの上限件数。
const DefaultRetentionLimit = 1000

// PassRecord は1回分の廊下通行証（ホールパス）の発行記録を表す。
// 作成後は不変で、削除以外の操作は存在しない。
type PassRecord struct {
	ID              string    `json:"id"`
	StudentName     string    `json:"studentName"`
	Location        string    `json:"location"`
	Timestamp       time.Time `json:"timestamp"`
	TeacherIdentity string    `json:"teacherIdentity"`
}

// TimestampLayout はJSONに書き出す時刻の形式。
// ブラウザの Date.prototype.toISOString と同じUTC・ミリ秒精度の表現。
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp はtをTimestampLayoutで整形する。
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// MarshalJSON はtimestampをUTC・ミリ秒精度で書き出す。
// 保存先のタイムゾーンや精度に関係なく、送信時と同じ表現で返すため。
func (p PassRecord) MarshalJSON() ([]byte, error) {
	type plain PassRecord
	return json.Marshal(struct {
		plain
		Timestamp string `json:"timestamp"`
	}{plain: plain(p), Timestamp: FormatTimestamp(p.Timestamp)})
}

// AdminListing は全教員横断の一覧結果を表す。
// Teachers は走査したレコードから導出した教員の集合（重複なし、昇順）。
type AdminListing struct {
	Passes   []PassRecord
	Teachers []string
}
