package service

import (
	"errors"
	"reflect"
	"testing"

	"mindcare-go/internal/model"
)

func TestSettingsTypedReads(t *testing.T) {
	settings, _ := newTestSettings(map[string]string{
		KeyScaleMax:             "4",
		KeyInterviewTemperature: "0.55",
		KeyCaptureEnabled:       "YES",
		KeyRecordingMode:        "video",
	})

	if got := settings.GetString(KeyRecordingMode); got != "video" {
		t.Errorf("GetString = %q, want %q", got, "video")
	}
	if got := settings.GetInt(KeyScaleMax); got != 4 {
		t.Errorf("GetInt = %d, want 4", got)
	}
	if got := settings.GetFloat(KeyInterviewTemperature); got != 0.55 {
		t.Errorf("GetFloat = %v, want 0.55", got)
	}
	if !settings.GetBool(KeyCaptureEnabled) {
		t.Error("GetBool(YES) = false, want true")
	}
}

func TestSettingsMissingKeyFallsBackToDefault(t *testing.T) {
	settings, _ := newTestSettings(nil)

	if got := settings.GetInt(KeyInterviewMaxExchanges); got != 10 {
		t.Errorf("GetInt 缺省值 = %d, want 10", got)
	}
	if got := settings.GetFloat(KeyCaptureQuality); got != 0.8 {
		t.Errorf("GetFloat 缺省值 = %v, want 0.8", got)
	}
	if settings.GetBool(KeyAnalysisAuto) {
		t.Error("GetBool 缺省值 = true, want false")
	}
	// 没有注册默认值的键返回零值
	if got := settings.GetString("no_such_key"); got != "" {
		t.Errorf("GetString(未注册键) = %q, want \"\"", got)
	}
}

func TestSettingsUnparsableValueFallsBackToDefault(t *testing.T) {
	settings, _ := newTestSettings(map[string]string{
		KeyScaleMin:             "not-a-number",
		KeyInterviewTemperature: "hot",
	})

	if got := settings.GetInt(KeyScaleMin); got != 0 {
		t.Errorf("GetInt(非法值) = %d, want 0", got)
	}
	if got := settings.GetFloat(KeyInterviewTemperature); got != 0.7 {
		t.Errorf("GetFloat(非法值) = %v, want 0.7", got)
	}
}

func TestSettingsRepoErrorFallsBackToDefault(t *testing.T) {
	settings, repo := newTestSettings(nil)
	repo.getErr = errors.New("connection refused")

	if got := settings.GetInt(KeyCaptureInterval); got != 5 {
		t.Errorf("GetInt(仓库故障) = %d, want 5", got)
	}
}

func TestSettingsGetBoolVariants(t *testing.T) {
	cases := map[string]bool{
		"true": true, "TRUE": true, "1": true, "yes": true, "on": true, " On ": true,
		"false": false, "0": false, "no": false, "off": false, "": false, "garbage": false,
	}
	for raw, want := range cases {
		settings, _ := newTestSettings(map[string]string{"flag": raw})
		if got := settings.GetBool("flag"); got != want {
			t.Errorf("GetBool(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestSettingsListParsingChain(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"JSON 字符串数组", `["a", "b", "c"]`, []string{"a", "b", "c"}},
		{"JSON 数字数组", `[1, 2, 9]`, []string{"1", "2", "9"}},
		{"逗号分隔", "x, y ,z", []string{"x", "y", "z"}},
		{"单个值", "alone", []string{"alone"}},
		{"空白", "   ", nil},
		{"JSON 数组含空元素", `["a", "", "b"]`, []string{"a", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			settings, _ := newTestSettings(map[string]string{"list": tc.raw})
			got := settings.GetStringList("list")
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("GetStringList(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestSettingsGetIntListDropsNonIntegers(t *testing.T) {
	settings, _ := newTestSettings(map[string]string{
		KeyEnabledCategories: `[1, "2", "x", 5]`,
	})
	got := settings.GetIntList(KeyEnabledCategories)
	if !reflect.DeepEqual(got, []int{1, 2, 5}) {
		t.Errorf("GetIntList = %v, want [1 2 5]", got)
	}
}

func TestSettingsGetRequiredString(t *testing.T) {
	settings, _ := newTestSettings(map[string]string{
		KeyInterviewPrompt: "你是一名访谈师。",
		"blank_key":        "   ",
	})

	if got, err := settings.GetRequiredString(KeyInterviewPrompt); err != nil || got != "你是一名访谈师。" {
		t.Errorf("GetRequiredString = (%q, %v), want 设置值", got, err)
	}

	_, err := settings.GetRequiredString("absent_key")
	if !IsSettingMissing(err) {
		t.Errorf("缺失键应返回 SettingMissingError, got %v", err)
	}

	_, err = settings.GetRequiredString("blank_key")
	if !IsSettingMissing(err) {
		t.Errorf("空白值应返回 SettingMissingError, got %v", err)
	}
}

func TestSettingsUpdateInfersValueType(t *testing.T) {
	settings, repo := newTestSettings(nil)

	if err := settings.Update(KeyRandomize, "true"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := settings.Update("questionnaire_category_3_questions", `["q1"]`); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := settings.Update("custom_note", "hello"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := settings.Update("  ", "x"); err == nil {
		t.Error("空键的 Update 应报错")
	}

	if repo.values[KeyRandomize] != "true" {
		t.Errorf("Update 未写入值: %v", repo.values)
	}
	if got := inferType("questionnaire_category_3_questions"); got != model.SettingTypeJSON {
		t.Errorf("动态类目键类型 = %q, want json", got)
	}
	if got := inferType("custom_note"); got != model.SettingTypeString {
		t.Errorf("未知键类型 = %q, want string", got)
	}
}

func TestSettingsEnsureDefaultsKeepsExisting(t *testing.T) {
	settings, repo := newTestSettings(map[string]string{
		KeyConsentFormText: "已有的同意书",
	})

	if err := settings.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	if repo.values[KeyConsentFormText] != "已有的同意书" {
		t.Errorf("已存在的键被覆盖: %q", repo.values[KeyConsentFormText])
	}
	if repo.values[KeyScaleMax] != "3" {
		t.Errorf("缺失的默认值未写入: %q", repo.values[KeyScaleMax])
	}
	if _, ok := repo.values[ScaleLabelKey(0)]; !ok {
		t.Error("标度标签默认值未写入")
	}
	// 访谈提示词没有默认值，必须由管理员显式配置
	if _, ok := repo.values[KeyInterviewPrompt]; ok {
		t.Error("interview_prompt 不应有默认值")
	}
}
