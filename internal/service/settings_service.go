// Package service 包含了应用的业务逻辑层。
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mindcare-go/internal/model"
	"mindcare-go/internal/repository"
	"mindcare-go/pkg/log"

	"gorm.io/gorm"
)

// 运营设置键。管理员通过后台修改这些键来调整评估内容与策略。
const (
	KeyEnabledCategories     = "questionnaire_enabled_categories"
	KeyRandomize             = "questionnaire_randomize"
	KeyScaleMin              = "scale_min"
	KeyScaleMax              = "scale_max"
	KeyInterviewPrompt       = "interview_prompt"
	KeyInterviewInstructions = "interview_instructions"
	KeyInterviewMaxExchanges = "interview_max_exchanges"
	KeyInterviewClosing      = "interview_closing_message"
	KeyInterviewTemperature  = "interview_temperature"
	KeyConsentFormText       = "consent_form_text"
	KeyCaptureEnabled        = "capture_enabled"
	KeyRecordingMode         = "recording_mode"
	KeyCaptureMode           = "capture_mode"
	KeyCaptureInterval       = "capture_interval_seconds"
	KeyCaptureQuality        = "capture_image_quality"
	KeyCaptureResolution     = "capture_resolution"
	KeyVideoFormat           = "video_format"
	KeyAnalysisAuto          = "analysis_auto_enabled"
	KeyAnalysisPrompt        = "analysis_prompt"
)

// CategoryNameKey 返回类目名称的设置键。
func CategoryNameKey(n int) string {
	return fmt.Sprintf("questionnaire_category_%d_name", n)
}

// CategoryQuestionsKey 返回类目题目列表的设置键。
func CategoryQuestionsKey(n int) string {
	return fmt.Sprintf("questionnaire_category_%d_questions", n)
}

// ScaleLabelKey 返回标度值对应标签的设置键。
func ScaleLabelKey(v int) string {
	return fmt.Sprintf("scale_label_%d", v)
}

// settingDefault 描述一个设置项的默认值。
type settingDefault struct {
	Value       string
	Type        string
	Description string
}

// settingDefaults 是所有带默认值设置的注册表。
// interview_prompt 故意不在其中：它没有默认值，必须由管理员配置
//（或运行 cmd/seed 植入演示提示词），缺失时访谈环节拒绝启动。
var settingDefaults = map[string]settingDefault{
	KeyEnabledCategories:     {"[1,2,3,4,5,6,7,8,9]", model.SettingTypeJSON, "启用的量表类目编号列表"},
	KeyRandomize:             {"false", model.SettingTypeBool, "是否打乱量表题目顺序"},
	KeyScaleMin:              {"0", model.SettingTypeInt, "标度最小值"},
	KeyScaleMax:              {"3", model.SettingTypeInt, "标度最大值"},
	KeyInterviewInstructions: {"接下来是开放式访谈，请放松并如实作答。", model.SettingTypeString, "访谈开始前展示的说明文字"},
	KeyInterviewMaxExchanges: {"10", model.SettingTypeInt, "访谈最大对话轮次"},
	KeyInterviewClosing:      {"感谢你的分享，本次访谈到这里结束。", model.SettingTypeString, "达到轮次上限时的结束语"},
	KeyInterviewTemperature:  {"0.7", model.SettingTypeFloat, "访谈生成温度"},
	KeyConsentFormText:       {"请在后台设置中配置知情同意书内容。", model.SettingTypeString, "知情同意书文本"},
	KeyCaptureEnabled:        {"true", model.SettingTypeBool, "是否启用摄像头采集"},
	KeyRecordingMode:         {"capture", model.SettingTypeString, "采集形态: capture(截图) | video(录像)"},
	KeyCaptureMode:           {"interval", model.SettingTypeString, "截图触发方式: interval | event | continuous"},
	KeyCaptureInterval:       {"5", model.SettingTypeInt, "定时截图间隔（秒）"},
	KeyCaptureQuality:        {"0.8", model.SettingTypeFloat, "截图压缩质量 (0-1]"},
	KeyCaptureResolution:     {"1280x720", model.SettingTypeString, "采集分辨率"},
	KeyVideoFormat:           {"webm", model.SettingTypeString, "录像容器格式"},
	KeyAnalysisAuto:          {"false", model.SettingTypeBool, "会话完成后是否自动触发 LLM 分析"},
	KeyAnalysisPrompt: {"你是一名临床心理评估助手。请根据以下评估会话的量表得分与访谈记录，" +
		"输出 JSON，包含 summary(总体印象)、risk_indicators(风险信号列表)、" +
		"recommendation(随访建议) 三个字段。", model.SettingTypeString, "后台分析任务使用的提示词"},
}

// 标度标签默认值，下标即标度值。
var defaultScaleLabels = []string{
	"完全没有", "有几天", "超过一半天数", "几乎每天", "总是",
	"极其严重", "非常高", "最高", "严重", "危急",
}

// SettingsService 接口定义了类型化的运营设置读写操作。
// 读操作永不失败：键缺失或值无法解析时回落到注册的默认值。
type SettingsService interface {
	GetString(key string) string
	GetRequiredString(key string) (string, error)
	GetInt(key string) int
	GetFloat(key string) float64
	GetBool(key string) bool
	GetStringList(key string) []string
	GetIntList(key string) []int
	All() ([]model.AppSetting, error)
	Update(key, value string) error
	UpdateBatch(values map[string]string) error
	EnsureDefaults() error
}

// settingsService 是 SettingsService 接口的实现。
type settingsService struct {
	settingRepo repository.SettingRepository
}

// NewSettingsService 创建一个新的 SettingsService 实例。
func NewSettingsService(settingRepo repository.SettingRepository) SettingsService {
	return &settingsService{settingRepo: settingRepo}
}

// lookup 读取原始值；键不存在时返回 (默认值, false)。
func (s *settingsService) lookup(key string) (string, bool) {
	setting, err := s.settingRepo.Get(key)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[SettingsService] 读取设置失败, key: %s, error: %v", key, err)
		}
		if def, ok := settingDefaults[key]; ok {
			return def.Value, false
		}
		return "", false
	}
	return setting.Value, true
}

// GetString 读取字符串设置。
func (s *settingsService) GetString(key string) string {
	value, _ := s.lookup(key)
	return value
}

// GetRequiredString 读取必需的字符串设置，缺失或为空时返回 SettingMissingError。
func (s *settingsService) GetRequiredString(key string) (string, error) {
	value, found := s.lookup(key)
	if !found && value == "" {
		return "", &SettingMissingError{Key: key}
	}
	if strings.TrimSpace(value) == "" {
		return "", &SettingMissingError{Key: key}
	}
	return value, nil
}

// GetInt 读取整数设置，解析失败回落默认值。
func (s *settingsService) GetInt(key string) int {
	value, _ := s.lookup(key)
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		def := settingDefaults[key]
		n, derr := strconv.Atoi(def.Value)
		if derr != nil {
			return 0
		}
		log.Warnf("[SettingsService] 设置 %s 的值 %q 不是整数，使用默认值 %d", key, value, n)
		return n
	}
	return n
}

// GetFloat 读取浮点设置，解析失败回落默认值。
func (s *settingsService) GetFloat(key string) float64 {
	value, _ := s.lookup(key)
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		def := settingDefaults[key]
		f, derr := strconv.ParseFloat(def.Value, 64)
		if derr != nil {
			return 0
		}
		log.Warnf("[SettingsService] 设置 %s 的值 %q 不是浮点数，使用默认值 %v", key, value, f)
		return f
	}
	return f
}

// GetBool 读取布尔设置。true/1/yes/on（不区分大小写）视为真。
func (s *settingsService) GetBool(key string) bool {
	value, _ := s.lookup(key)
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// GetStringList 读取字符串列表设置，依次尝试：
// JSON 数组 → 逗号分隔 → 单个非空字符串 → 空列表。
func (s *settingsService) GetStringList(key string) []string {
	value, _ := s.lookup(key)
	return parseStringList(value)
}

// GetIntList 读取整数列表设置，解析策略与 GetStringList 一致，
// 无法转成整数的元素被丢弃。
func (s *settingsService) GetIntList(key string) []int {
	items := s.GetStringList(key)
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil {
			log.Warnf("[SettingsService] 设置 %s 含非整数元素 %q，已忽略", key, item)
			continue
		}
		out = append(out, n)
	}
	return out
}

// parseStringList 实现列表值的降级解析链。
func parseStringList(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	// 1) JSON 数组（元素允许是任意标量，统一转成字符串）
	var arr []interface{}
	if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			var text string
			switch v := item.(type) {
			case string:
				text = v
			case float64:
				text = strconv.FormatFloat(v, 'f', -1, 64)
			default:
				text = fmt.Sprintf("%v", v)
			}
			text = strings.TrimSpace(text)
			if text != "" {
				out = append(out, text)
			}
		}
		return out
	}

	// 2) 逗号分隔
	if strings.Contains(trimmed, ",") {
		parts := strings.Split(trimmed, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	}

	// 3) 单个字符串
	return []string{trimmed}
}

// All 返回全部设置行。
func (s *settingsService) All() ([]model.AppSetting, error) {
	return s.settingRepo.FindAll()
}

// Update 写入一条设置，值类型按键名推断。
func (s *settingsService) Update(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("设置键不能为空")
	}
	setting := &model.AppSetting{
		Key:       key,
		Value:     value,
		ValueType: inferType(key),
	}
	if def, ok := settingDefaults[key]; ok {
		setting.Description = def.Description
	}
	if err := s.settingRepo.Upsert(setting); err != nil {
		return fmt.Errorf("保存设置 %s 失败: %w", key, err)
	}
	log.Infof("[SettingsService] 设置已更新, key: %s", key)
	return nil
}

// UpdateBatch 批量写入设置。
func (s *settingsService) UpdateBatch(values map[string]string) error {
	for key, value := range values {
		if err := s.Update(key, value); err != nil {
			return err
		}
	}
	return nil
}

var categoryQuestionsPattern = regexp.MustCompile(`^questionnaire_category_\d+_questions$`)

// inferType 按键名推断设置值类型，动态键（类目题目等）单独匹配。
func inferType(key string) string {
	if def, ok := settingDefaults[key]; ok {
		return def.Type
	}
	if categoryQuestionsPattern.MatchString(key) {
		return model.SettingTypeJSON
	}
	return model.SettingTypeString
}

// EnsureDefaults 在启动时写入全部缺失的默认设置，已存在的键保持不变。
func (s *settingsService) EnsureDefaults() error {
	defaults := make([]model.AppSetting, 0, len(settingDefaults)+len(defaultScaleLabels))
	for key, def := range settingDefaults {
		defaults = append(defaults, model.AppSetting{
			Key:         key,
			Value:       def.Value,
			ValueType:   def.Type,
			Description: def.Description,
		})
	}
	for v, label := range defaultScaleLabels {
		defaults = append(defaults, model.AppSetting{
			Key:         ScaleLabelKey(v),
			Value:       label,
			ValueType:   model.SettingTypeString,
			Description: fmt.Sprintf("标度值 %d 的展示标签", v),
		})
	}
	if err := s.settingRepo.CreateIfMissing(defaults); err != nil {
		return fmt.Errorf("写入默认设置失败: %w", err)
	}
	log.Infof("[SettingsService] 默认设置检查完成，共 %d 项", len(defaults))
	return nil
}
