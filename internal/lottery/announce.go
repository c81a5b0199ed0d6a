package lottery

import (
	"fmt"
	"strings"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
)

// Announcement bodies are forum markdown in the voice the plugin has always
// used. Winner lists render in declared-position order for specified draws
// and selection order for random draws.

const (
	// LockNotice is appended to the topic when the opening post gets locked
	// at the end of the regret period.
	LockNotice = "🔒 抽奖信息已锁定，不允许再次编辑。"

	drawFailureNotice = "❌ **开奖失败**\n\n系统在执行开奖时遇到错误。请联系管理员处理。"

	announceTimeLayout = "2006年01月02日 15:04"
)

// FormatWinners renders the draw-result post. When the draw went ahead below
// the participation threshold it carries an extra note saying so.
func FormatWinners(l *domain.Lottery, winners []domain.Participant, names map[int64]string, eligible int, insufficient bool) string {
	var b strings.Builder
	b.WriteString("## 🎉 开奖结果\n\n")
	fmt.Fprintf(&b, "**活动名称：** %s\n", l.PrizeName)
	fmt.Fprintf(&b, "**开奖时间：** %s\n", l.DrawTime.Format(announceTimeLayout))
	fmt.Fprintf(&b, "**参与人数：** %d 人\n\n", eligible)

	if insufficient {
		fmt.Fprintf(&b, "⚠️ **特别说明：** 实际参与人数为 %d 人，少于设定门槛 %d 人，但根据活动设置继续开奖。\n\n",
			eligible, l.MinParticipants)
	}

	if l.LotteryType == domain.TypeSpecified {
		b.WriteString("**中奖方式：** 指定楼层\n")
		b.WriteString("**中奖名单：**\n")
		for _, w := range winners {
			fmt.Fprintf(&b, "- %d楼：@%s\n", w.ReplyPosition, names[w.UserID])
		}
	} else {
		b.WriteString("**中奖方式：** 随机抽取\n")
		b.WriteString("**中奖名单：**\n")
		for i, w := range winners {
			fmt.Fprintf(&b, "%d. @%s\n", i+1, names[w.UserID])
		}
	}

	b.WriteString("\n---\n\n")
	b.WriteString("🎊 恭喜以上中奖者！请及时联系活动发起者领取奖品。")
	return b.String()
}

// FormatCancellation renders the cancellation post for a draw that was
// called off rather than crashed.
func FormatCancellation(l *domain.Lottery, reason domain.CancelReason, eligible int, now time.Time) string {
	var b strings.Builder
	b.WriteString("## ❌ 活动取消\n\n")
	fmt.Fprintf(&b, "**活动名称：** %s\n", l.PrizeName)
	fmt.Fprintf(&b, "**原定开奖时间：** %s\n", l.DrawTime.Format(announceTimeLayout))
	fmt.Fprintf(&b, "**取消时间：** %s\n", now.Format(announceTimeLayout))
	fmt.Fprintf(&b, "**取消原因：** %s\n", cancelReasonText(reason))

	if reason == domain.ReasonInsufficientParticipants {
		fmt.Fprintf(&b, "**需要人数：** %d 人\n", l.MinParticipants)
		fmt.Fprintf(&b, "**实际人数：** %d 人\n", eligible)
	}

	b.WriteString("\n感谢大家的关注和参与，期待下次活动！")
	return b.String()
}

func cancelReasonText(reason domain.CancelReason) string {
	switch reason {
	case domain.ReasonInsufficientParticipants:
		return "参与人数不足"
	case domain.ReasonNoParticipants:
		return "无人参与"
	case domain.ReasonAllSpecifiedInvalid:
		return "所有指定楼层均无有效参与者"
	default:
		return "系统错误"
	}
}

// FormatDrawFailure is the generic notice posted when draw execution itself
// errored. It deliberately says nothing about the cause.
func FormatDrawFailure() string {
	return drawFailureNotice
}

// FormatWinnerMessage renders the private message sent to each winner.
func FormatWinnerMessage(l *domain.Lottery, creatorName string) (title, body string) {
	var b strings.Builder
	b.WriteString("恭喜您在抽奖活动中获奖！\n\n")
	fmt.Fprintf(&b, "**活动名称：** %s\n", l.PrizeName)
	fmt.Fprintf(&b, "**奖品说明：** %s\n", l.PrizeDetails)
	fmt.Fprintf(&b, "**开奖时间：** %s\n", l.DrawTime.Format(announceTimeLayout))
	fmt.Fprintf(&b, "**活动发起者：** @%s\n\n", creatorName)
	b.WriteString("请及时联系活动发起者领取您的奖品。")
	return "🎉 恭喜您中奖了！", b.String()
}
