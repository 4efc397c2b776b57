// Package main 是演示数据种子工具的入口点。
// 它以幂等的方式植入管理员账号、默认量表类目与演示访谈提示词，
// 已存在的数据一律保持不变，可以安全地重复执行。
package main

import (
	"encoding/json"

	"mindcare-go/internal/config"
	"mindcare-go/internal/model"
	"mindcare-go/internal/repository"
	"mindcare-go/internal/service"
	"mindcare-go/pkg/database"
	"mindcare-go/pkg/hash"
	"mindcare-go/pkg/log"
)

// seedCategory 是一个待植入的量表类目。
type seedCategory struct {
	Number    int
	Name      string
	Questions []string
}

// 演示量表内容，按 PHQ-9 的九个症状域组织。
var seedCategories = []seedCategory{
	{1, "兴趣减退", []string{"做事时提不起劲或没有兴趣"}},
	{2, "情绪低落", []string{"感到心情低落、沮丧或绝望"}},
	{3, "睡眠问题", []string{"入睡困难、睡不安稳或睡眠过多"}},
	{4, "疲倦乏力", []string{"感觉疲倦或没有活力"}},
	{5, "食欲变化", []string{"食欲不振或吃太多"}},
	{6, "自我评价低", []string{"觉得自己很糟，或觉得自己很失败，或让自己、家人失望"}},
	{7, "注意力困难", []string{"对事物专注有困难，例如阅读报纸或看电视时"}},
	{8, "精神运动性改变", []string{"动作或说话速度缓慢到别人已经察觉，或正好相反，烦躁或坐立不安、动来动去的情况更胜于平常"}},
	{9, "自伤意念", []string{"有不如死掉或用某种方式伤害自己的念头"}},
}

const demoInterviewPrompt = "你是一名温和、专业的心理评估访谈员。" +
	"请用简短、共情的中文与受测者对话，每次只问一个开放式问题，" +
	"围绕近期情绪、睡眠、生活事件与支持系统展开。" +
	"不要给出诊断或治疗建议，不要评判受测者的回答。"

const demoConsentText = "欢迎参加本次心理健康自评。评估包含量表问卷与开放式访谈两个环节，" +
	"过程中会通过摄像头采集画面用于评估研究。你的数据仅用于评估目的，" +
	"你可以随时放弃评估或要求删除全部数据。点击同意即表示你已了解并接受以上内容。"

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	// 3. 初始化数据库并建表
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.AutoMigrate()

	userRepo := repository.NewUserRepository(database.DB)
	settingRepo := repository.NewSettingRepository(database.DB)
	settings := service.NewSettingsService(settingRepo)

	// 4. 植入管理员账号
	seedAdmin(userRepo)

	// 5. 植入量表类目、访谈提示词与知情同意书。
	// 必须先于默认值执行，否则知情同意书会被占位默认值抢先占住。
	seedSettings(settingRepo)

	// 6. 植入其余带默认值的设置项
	if err := settings.EnsureDefaults(); err != nil {
		log.Fatalf("写入默认设置失败: %v", err)
	}

	log.Info("演示数据植入完成")
}

// seedAdmin 创建管理员账号，已存在则跳过。
func seedAdmin(userRepo repository.UserRepository) {
	if _, err := userRepo.FindByUsername("admin"); err == nil {
		log.Info("管理员账号已存在，跳过")
		return
	}

	hashed, err := hash.HashPassword("admin123")
	if err != nil {
		log.Fatalf("生成管理员密码哈希失败: %v", err)
	}
	admin := &model.User{
		Username: "admin",
		Password: hashed,
		FullName: "系统管理员",
		Role:     model.RoleAdmin,
	}
	if err := userRepo.Create(admin); err != nil {
		log.Fatalf("创建管理员账号失败: %v", err)
	}
	log.Info("管理员账号已创建: admin / admin123（请尽快修改密码）")
}

// seedSettings 植入量表内容与演示提示词，已有的键保持原值。
func seedSettings(settingRepo repository.SettingRepository) {
	entries := make([]model.AppSetting, 0, len(seedCategories)*2+2)

	for _, cat := range seedCategories {
		questions, err := json.Marshal(cat.Questions)
		if err != nil {
			log.Fatalf("序列化类目 %d 题目失败: %v", cat.Number, err)
		}
		entries = append(entries,
			model.AppSetting{
				Key:         service.CategoryNameKey(cat.Number),
				Value:       cat.Name,
				ValueType:   model.SettingTypeString,
				Description: "量表类目名称",
			},
			model.AppSetting{
				Key:         service.CategoryQuestionsKey(cat.Number),
				Value:       string(questions),
				ValueType:   model.SettingTypeJSON,
				Description: "量表类目题目列表",
			},
		)
	}

	entries = append(entries,
		model.AppSetting{
			Key:         service.KeyInterviewPrompt,
			Value:       demoInterviewPrompt,
			ValueType:   model.SettingTypeString,
			Description: "访谈系统提示词",
		},
		model.AppSetting{
			Key:         service.KeyConsentFormText,
			Value:       demoConsentText,
			ValueType:   model.SettingTypeString,
			Description: "知情同意书文本",
		},
	)

	if err := settingRepo.CreateIfMissing(entries); err != nil {
		log.Fatalf("植入设置失败: %v", err)
	}
	log.Infof("已植入 %d 个量表类目与演示提示词", len(seedCategories))
}
