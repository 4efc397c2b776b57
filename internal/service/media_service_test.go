package service

import (
	"context"
	"strings"
	"testing"

	"mindcare-go/internal/model"
)

type fakeMediaRepo struct {
	artifacts []model.MediaArtifact
	createErr error
	counts    map[string]int64
	countsErr error
}

func (r *fakeMediaRepo) Create(artifact *model.MediaArtifact) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.artifacts = append(r.artifacts, *artifact)
	return nil
}

func (r *fakeMediaRepo) FindBySession(sessionID string) ([]model.MediaArtifact, error) {
	out := make([]model.MediaArtifact, 0, len(r.artifacts))
	for _, a := range r.artifacts {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeMediaRepo) CountBySession(sessionID string) (int64, error) {
	rows, _ := r.FindBySession(sessionID)
	return int64(len(rows)), nil
}

func (r *fakeMediaRepo) CountBySessionAndType(sessionID string) (map[string]int64, error) {
	if r.countsErr != nil {
		return nil, r.countsErr
	}
	return r.counts, nil
}

func TestSaveRejectsInvalidRequests(t *testing.T) {
	settings, _ := newTestSettings(nil)
	media := NewMediaService(&fakeMediaRepo{}, settings)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *SaveMediaRequest
	}{
		{"未知环节", &SaveMediaRequest{Module: "warmup", MediaType: model.MediaTypeImage, Data: []byte{1}}},
		{"未知媒体类型", &SaveMediaRequest{Module: model.ModuleQuestionnaire, MediaType: "audio", Data: []byte{1}}},
		{"空内容", &SaveMediaRequest{Module: model.ModuleQuestionnaire, MediaType: model.MediaTypeImage}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := media.Save(ctx, "s1", tc.req); err == nil {
				t.Error("Save 应拒绝非法请求")
			}
		})
	}
}

func TestBuildObjectPathShape(t *testing.T) {
	got := buildObjectPath("sess-1", model.ModuleQuestionnaire, "cat1_q0", model.MediaTypeImage, "image/png")

	if !strings.HasPrefix(got, "assessments/sess-1/camera/images/questionnaire/cat1_q0_") {
		t.Errorf("对象路径前缀不符: %q", got)
	}
	if !strings.HasSuffix(got, ".png") {
		t.Errorf("对象路径后缀不符: %q", got)
	}
	if parts := strings.Split(got, "/"); len(parts) != 6 {
		t.Errorf("路径层级 = %d, want 6: %q", len(parts), got)
	}

	video := buildObjectPath("sess-1", model.ModuleInterview, "turn3", model.MediaTypeVideo, "video/webm")
	if !strings.Contains(video, "/videos/interview/") || !strings.HasSuffix(video, ".webm") {
		t.Errorf("录像路径 = %q", video)
	}
}

func TestSanitizeKeyReplacesUnsafeRunes(t *testing.T) {
	cases := map[string]string{
		"cat1_q0":     "cat1_q0",
		"题目/一":        "____",
		"a b.c":       "a_b_c",
		"Q-2":         "Q-2",
		"x../../etc":  "x______etc",
		"unspecified": "unspecified",
	}
	for in, want := range cases {
		if got := sanitizeKey(in); got != want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtensionForFallsBackByMediaType(t *testing.T) {
	cases := []struct {
		mediaType, mimeType, want string
	}{
		{model.MediaTypeImage, "image/jpeg", ".jpg"},
		{model.MediaTypeImage, "IMAGE/PNG", ".png"},
		{model.MediaTypeImage, "image/webp", ".webp"},
		{model.MediaTypeVideo, "video/mp4", ".mp4"},
		{model.MediaTypeVideo, "application/octet-stream", ".webm"},
		{model.MediaTypeImage, "", ".jpg"},
	}
	for _, tc := range cases {
		if got := extensionFor(tc.mediaType, tc.mimeType); got != tc.want {
			t.Errorf("extensionFor(%q, %q) = %q, want %q", tc.mediaType, tc.mimeType, got, tc.want)
		}
	}
}

func TestCaptureConfigReflectsSettings(t *testing.T) {
	settings, _ := newTestSettings(map[string]string{
		KeyCaptureEnabled:    "false",
		KeyRecordingMode:     "video",
		KeyCaptureMode:       "event",
		KeyCaptureInterval:   "7",
		KeyCaptureQuality:    "0.5",
		KeyCaptureResolution: "640x480",
		KeyVideoFormat:       "mp4",
	})
	media := NewMediaService(&fakeMediaRepo{}, settings)

	cfg := media.CaptureConfig()
	if cfg.Enabled {
		t.Error("Enabled = true, want false")
	}
	if cfg.RecordingMode != "video" || cfg.CaptureMode != "event" || cfg.VideoFormat != "mp4" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.IntervalSeconds != 7 || cfg.ImageQuality != 0.5 || cfg.Resolution != "640x480" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestCaptureConfigDefaults(t *testing.T) {
	settings, _ := newTestSettings(nil)
	media := NewMediaService(&fakeMediaRepo{}, settings)

	cfg := media.CaptureConfig()
	if !cfg.Enabled || cfg.RecordingMode != "capture" || cfg.CaptureMode != "interval" {
		t.Errorf("默认采集配置 = %+v", cfg)
	}
	if cfg.IntervalSeconds != 5 || cfg.ImageQuality != 0.8 {
		t.Errorf("默认采集配置 = %+v", cfg)
	}
}

func TestCountsDelegatesToRepo(t *testing.T) {
	settings, _ := newTestSettings(nil)
	repo := &fakeMediaRepo{counts: map[string]int64{model.MediaTypeImage: 12, model.MediaTypeVideo: 1}}
	media := NewMediaService(repo, settings)

	counts, err := media.Counts("s1")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[model.MediaTypeImage] != 12 || counts[model.MediaTypeVideo] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
