package parser

import "testing"

const sampleBlock = `
活动名称：周年庆抽奖
奖品说明：机械键盘一把
开奖时间：2026-10-01 20:00
获奖人数：2
参与门槛：10人
补充说明：仅限本站老用户
奖品图片：https://cdn.example.com/kb.png
`

func TestParse(t *testing.T) {
	in, ok := Parse(sampleBlock)
	if !ok {
		t.Fatal("expected recognized fields, got none")
	}
	if in.PrizeName != "周年庆抽奖" {
		t.Errorf("PrizeName = %q", in.PrizeName)
	}
	if in.PrizeDetails != "机械键盘一把" {
		t.Errorf("PrizeDetails = %q", in.PrizeDetails)
	}
	if in.DrawTime != "2026-10-01 20:00" {
		t.Errorf("DrawTime = %q", in.DrawTime)
	}
	if in.WinnersCount != 2 {
		t.Errorf("WinnersCount = %d, want 2", in.WinnersCount)
	}
	if in.MinParticipants != 10 {
		t.Errorf("MinParticipants = %d, want 10", in.MinParticipants)
	}
	if in.BackupStrategy != "continue" {
		t.Errorf("BackupStrategy = %q, want default continue", in.BackupStrategy)
	}
	if in.AdditionalNotes != "仅限本站老用户" {
		t.Errorf("AdditionalNotes = %q", in.AdditionalNotes)
	}
	if in.PrizeImage != "https://cdn.example.com/kb.png" {
		t.Errorf("PrizeImage = %q", in.PrizeImage)
	}
}

func TestParseBackupStrategy(t *testing.T) {
	tests := []struct {
		name  string
		block string
		want  string
	}{
		{"cancel keyword", "活动名称：a\n后备策略：人数不足则取消", "cancel"},
		{"continue keyword", "活动名称：a\n后备策略：继续开奖", "continue"},
		{"absent defaults to continue", "活动名称：a", "continue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ok := Parse(tt.block)
			if !ok {
				t.Fatal("expected data")
			}
			if in.BackupStrategy != tt.want {
				t.Errorf("BackupStrategy = %q, want %q", in.BackupStrategy, tt.want)
			}
		})
	}
}

func TestParseNumericSuffixes(t *testing.T) {
	block := `
活动名称：a
获奖人数：3人
参与门槛：共10人以上
`
	in, ok := Parse(block)
	if !ok {
		t.Fatal("expected data")
	}
	if in.WinnersCount != 3 {
		t.Errorf("WinnersCount = %d, want 3", in.WinnersCount)
	}
	if in.MinParticipants != 10 {
		t.Errorf("MinParticipants = %d, want 10", in.MinParticipants)
	}
}

func TestParseIgnoresUnrecognizedAndMalformedLines(t *testing.T) {
	block := `
随便写点什么
未知键：某值
活动名称：测试
没有冒号的行
指定楼层：3,5,9
`
	in, ok := Parse(block)
	if !ok {
		t.Fatal("expected data")
	}
	if in.PrizeName != "测试" {
		t.Errorf("PrizeName = %q", in.PrizeName)
	}
	if in.SpecifiedPosts != "3,5,9" {
		t.Errorf("SpecifiedPosts = %q", in.SpecifiedPosts)
	}
}

func TestParseNoData(t *testing.T) {
	if _, ok := Parse("just some text\nwith no keys"); ok {
		t.Error("expected no data for unrecognized content")
	}
	if _, ok := Parse(""); ok {
		t.Error("expected no data for empty block")
	}
	// Half-width colon is not the separator.
	if _, ok := Parse("活动名称: test"); ok {
		t.Error("half-width colon lines must not be recognized")
	}
}

func TestParseRaw(t *testing.T) {
	raw := "前言\n[lottery]\n活动名称：x\n奖品说明：y\n[/lottery]\n后记"
	in, ok := ParseRaw(raw)
	if !ok {
		t.Fatal("expected block")
	}
	if in.PrizeName != "x" || in.PrizeDetails != "y" {
		t.Errorf("got %+v", in)
	}

	if _, ok := ParseRaw("no block here"); ok {
		t.Error("expected no intent without a lottery block")
	}
	if _, ok := ParseRaw("[lottery]\nnothing recognized\n[/lottery]"); ok {
		t.Error("expected no intent for empty block")
	}
}
