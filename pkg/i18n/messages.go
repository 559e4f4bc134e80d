// Package i18n provides the fixed key→language table for user-facing strings.
//
// Supported response languages: th, en, zh, km, ko, id. Unknown or missing
// language codes resolve to English via golang.org/x/text language matching.
package i18n

import "golang.org/x/text/language"

// Supported is the closed set of response languages, in matcher priority order.
var Supported = []language.Tag{
	language.English,
	language.Thai,
	language.Chinese,
	language.Khmer,
	language.Korean,
	language.Indonesian,
}

var matcher = language.NewMatcher(Supported)

// Resolve maps an arbitrary language code to one of the supported codes.
func Resolve(lang string) string {
	if lang == "" {
		return "en"
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return "en"
	}
	_, idx, _ := matcher.Match(tag)
	base, _ := Supported[idx].Base()
	return base.String()
}

// T looks up a message key in the given language, falling back to English.
func T(key, lang string) string {
	entry, ok := messages[key]
	if !ok {
		return key
	}
	if msg, ok := entry[Resolve(lang)]; ok && msg != "" {
		return msg
	}
	return entry["en"]
}

var messages = map[string]map[string]string{
	"slip_received": {
		"en": "Slip received and queued for bank confirmation",
		"th": "ได้รับสลิปแล้ว กำลังรอการยืนยันจากธนาคาร",
		"zh": "已收到转账凭证，等待银行确认",
		"km": "បានទទួលប័ណ្ណផ្ទេរប្រាក់ កំពុងរង់ចាំការបញ្ជាក់ពីធនាគារ",
		"ko": "입금 전표가 접수되어 은행 확인을 기다리고 있습니다",
		"id": "Slip diterima dan menunggu konfirmasi bank",
	},
	"slip_invalid": {
		"en": "Slip could not be verified, please upload a clearer image",
		"th": "ไม่สามารถตรวจสอบสลิปได้ กรุณาอัปโหลดรูปที่ชัดเจนขึ้น",
		"zh": "无法验证转账凭证，请上传更清晰的图片",
		"km": "មិនអាចផ្ទៀងផ្ទាត់ប័ណ្ណបានទេ សូមបញ្ជូនរូបភាពច្បាស់ជាងនេះ",
		"ko": "전표를 확인할 수 없습니다. 더 선명한 이미지를 업로드해 주세요",
		"id": "Slip tidak dapat diverifikasi, harap unggah gambar yang lebih jelas",
	},
	"slip_too_large": {
		"en": "Uploaded slip exceeds the maximum allowed size",
		"th": "ไฟล์สลิปมีขนาดใหญ่เกินกำหนด",
		"zh": "上传的凭证超过允许的最大尺寸",
		"km": "ប័ណ្ណដែលបានបញ្ជូនលើសទំហំអតិបរមា",
		"ko": "업로드된 전표가 최대 허용 크기를 초과했습니다",
		"id": "Slip yang diunggah melebihi ukuran maksimum",
	},
	"slip_empty": {
		"en": "Slip payload is empty",
		"th": "ไม่พบข้อมูลสลิป",
		"zh": "凭证内容为空",
		"km": "គ្មានទិន្នន័យប័ណ្ណទេ",
		"ko": "전표 내용이 비어 있습니다",
		"id": "Data slip kosong",
	},
	"missing_fields": {
		"en": "Required fields are missing from the request",
		"th": "ข้อมูลที่จำเป็นไม่ครบถ้วน",
		"zh": "请求缺少必填字段",
		"km": "បាត់ព័ត៌មានចាំបាច់ក្នុងសំណើ",
		"ko": "요청에 필수 항목이 누락되었습니다",
		"id": "Kolom wajib tidak lengkap dalam permintaan",
	},
	"unauthorized": {
		"en": "Authentication required",
		"th": "จำเป็นต้องยืนยันตัวตน",
		"zh": "需要身份验证",
		"km": "ត្រូវការការផ្ទៀងផ្ទាត់អត្តសញ្ញាណ",
		"ko": "인증이 필요합니다",
		"id": "Diperlukan autentikasi",
	},
	"internal_error": {
		"en": "An internal error occurred, please try again later",
		"th": "เกิดข้อผิดพลาดภายใน กรุณาลองใหม่ภายหลัง",
		"zh": "发生内部错误，请稍后重试",
		"km": "មានបញ្ហាក្នុងប្រព័ន្ធ សូមព្យាយាមម្តងទៀត",
		"ko": "내부 오류가 발생했습니다. 나중에 다시 시도해 주세요",
		"id": "Terjadi kesalahan internal, coba lagi nanti",
	},
}
