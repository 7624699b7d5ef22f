package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"thaibot/internal/content"
	"thaibot/internal/payment"
	"thaibot/internal/store"
	"thaibot/internal/transport"
	"thaibot/pkg/logx"
)

const errReply = "❌ Sorry, something went wrong. Please try again."

func (r *Router) handleStart(ctx context.Context, chatID, userID int64, displayName string) {
	if displayName == "" {
		displayName = "User"
	}
	if err := r.users.UpsertUser(ctx, userID, displayName); err != nil {
		r.log.Warn("user upsert failed", logx.Int64("user", userID), logx.Err(err))
		r.send(ctx, chatID, errReply, nil)
		return
	}

	text := "🇹🇭 Welcome to Thai Learning Bot!\n\n" +
		"📖 Get daily Thai sentences and improve your language skills!\n" +
		"💰 Subscribe with TON cryptocurrency for 30 days of lessons.\n\n" +
		"🎯 Choose your difficulty level and start learning!"
	r.send(ctx, chatID, text, markup([][]button{
		{{"📚 Help", ActionHelp.Data()}, {"📊 Status", ActionStatus.Data()}},
		{{"💳 Subscribe", ActionSubscribe.Data()}, {"⚙️ Difficulty", ActionSettings.Data()}},
	}))
}

func (r *Router) handleHelp(ctx context.Context, chatID int64) {
	text := "🇹🇭 Thai Learning Bot Help\n\n" +
		"📖 How it works:\n" +
		"• Get daily Thai sentences at 9:00 AM ICT\n" +
		"• Practice typing the sentence back in Thai\n\n" +
		"💰 Subscription: 1 TON for 30 days\n" +
		"🎯 Difficulty: 5 levels (Beginner to Expert)"
	r.send(ctx, chatID, text, markup([][]button{
		{{"🏠 Main Menu", ActionMainMenu.Data()}},
	}))
}

func (r *Router) handleStatus(ctx context.Context, chatID, userID int64) {
	user, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		r.send(ctx, chatID, "❌ User not found. Please use /start first.", nil)
		return
	}
	if err != nil {
		r.log.Warn("user load failed", logx.Int64("user", userID), logx.Err(err))
		r.send(ctx, chatID, errReply, nil)
		return
	}

	var b strings.Builder
	b.WriteString("📊 Subscription Status\n\n")

	sub, err := r.users.GetActiveSubscription(ctx, userID)
	subscribed := err == nil
	if subscribed {
		daysLeft := int(time.Until(sub.ExpiresAt).Hours()/24) + 1
		fmt.Fprintf(&b, "✅ Active (%d days left)\n", daysLeft)
	} else {
		b.WriteString("❌ No active subscription\n")
	}
	fmt.Fprintf(&b, "Current Level: %d (%s)\n\n", user.Level, levelName(user.Level))
	b.WriteString("Daily lessons go out at 9:00 AM ICT.")

	rows := [][]button{}
	if subscribed {
		rows = append(rows, []button{{"🚫 Unsubscribe", ActionUnsubscribe.Data()}})
	}
	rows = append(rows, []button{{"🏠 Main Menu", ActionMainMenu.Data()}})
	r.send(ctx, chatID, b.String(), markup(rows))
}

func (r *Router) handleSubscribe(ctx context.Context, chatID, userID int64) {
	inv, err := r.payments.Start(ctx, userID)
	if errors.Is(err, payment.ErrAlreadySubscribed) {
		r.send(ctx, chatID, "✅ You already have an active subscription!", markup([][]button{
			{{"📊 Status", ActionStatus.Data()}, {"🏠 Main Menu", ActionMainMenu.Data()}},
		}))
		return
	}
	if err != nil {
		r.log.Warn("payment start failed", logx.Int64("user", userID), logx.Err(err))
		r.send(ctx, chatID, errReply, nil)
		return
	}

	text := fmt.Sprintf("💎 Thai Learning Bot Subscription\n\n"+
		"30 days of daily lessons for %.1f TON.\n\n"+
		"1. Send the payment with this link:\n%s\n\n"+
		"2. Keep the comment exactly as provided, it identifies your payment:\n%s\n\n"+
		"3. Then press the button below.",
		float64(inv.AmountNano)/1e9, inv.PayURL, inv.Reference)
	r.send(ctx, chatID, text, markup([][]button{
		{{"✅ I've paid, check", ActionCheckPayment.Data()}},
		{{"🏠 Main Menu", ActionMainMenu.Data()}},
	}))
}

func (r *Router) handleCheckPayment(ctx context.Context, chatID, userID int64) {
	res, err := r.payments.Check(ctx, userID)
	switch {
	case err == nil && res.Outcome == payment.OutcomeActivated:
		// The verifier already queued the confirmation and first lesson.
	case err == nil && res.Outcome == payment.OutcomeAlreadyResolved:
		r.send(ctx, chatID, "✅ Your payment was already confirmed, you're subscribed!", markup([][]button{
			{{"📊 Status", ActionStatus.Data()}},
		}))
	case errors.Is(err, payment.ErrNoPending):
		r.send(ctx, chatID, "❌ No pending payment found. Use Subscribe to start one.", markup([][]button{
			{{"💳 Subscribe", ActionSubscribe.Data()}},
		}))
	case errors.Is(err, payment.ErrNotFoundYet):
		r.send(ctx, chatID, "⏳ Payment not visible on the ledger yet. It can take a minute, press the button again shortly.", markup([][]button{
			{{"🔄 Check again", ActionCheckPayment.Data()}},
		}))
	case errors.Is(err, payment.ErrUnavailable):
		r.send(ctx, chatID, "⚠️ Payment verification is temporarily unavailable. Please try again in a moment.", markup([][]button{
			{{"🔄 Check again", ActionCheckPayment.Data()}},
		}))
	default:
		r.log.Error("payment check failed", logx.Int64("user", userID), logx.Err(err))
		r.send(ctx, chatID, "❌ Payment check failed. If you have paid, please contact support.", nil)
	}
}

func (r *Router) handleSettings(ctx context.Context, chatID, userID int64) {
	user, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		r.send(ctx, chatID, "❌ User not found. Please use /start first.", nil)
		return
	}
	if err != nil {
		r.log.Warn("user load failed", logx.Int64("user", userID), logx.Err(err))
		r.send(ctx, chatID, errReply, nil)
		return
	}

	var b strings.Builder
	b.WriteString("⚙️ Settings\n\n")
	fmt.Fprintf(&b, "Current Difficulty Level: %d (%s)\n\n", user.Level, levelName(user.Level))
	b.WriteString("Choose your difficulty level:\n")
	for _, lv := range sortedLevels() {
		info := content.Levels[lv]
		fmt.Fprintf(&b, "• Level %d: %s (%s)\n", lv, info.Name, info.Description)
	}

	r.send(ctx, chatID, b.String(), markup([][]button{
		{{"Level 1", levelData(1)}, {"Level 2", levelData(2)}, {"Level 3", levelData(3)}},
		{{"Level 4", levelData(4)}, {"Level 5", levelData(5)}},
		{{"🏠 Main Menu", ActionMainMenu.Data()}},
	}))
}

func (r *Router) handleSetLevel(ctx context.Context, chatID, userID int64, level int) {
	if !content.ValidLevel(level) {
		r.send(ctx, chatID, errReply, nil)
		return
	}
	if err := r.users.SetUserLevel(ctx, userID, level); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.send(ctx, chatID, "❌ User not found. Please use /start first.", nil)
			return
		}
		r.log.Warn("level update failed", logx.Int64("user", userID), logx.Err(err))
		r.send(ctx, chatID, errReply, nil)
		return
	}
	text := fmt.Sprintf("✅ Difficulty updated to Level %d!\n\nYour daily lessons will now be at %s level.",
		level, levelName(level))
	r.send(ctx, chatID, text, markup([][]button{
		{{"🏠 Main Menu", ActionMainMenu.Data()}},
	}))
}

func (r *Router) handleUnsubscribe(ctx context.Context, chatID, userID int64) {
	err := r.payments.Cancel(ctx, userID)
	if errors.Is(err, payment.ErrNoActiveSubscription) {
		r.send(ctx, chatID, "❌ You don't have an active subscription to cancel.", nil)
		return
	}
	if err != nil {
		r.log.Warn("cancel failed", logx.Int64("user", userID), logx.Err(err))
		r.send(ctx, chatID, errReply, nil)
		return
	}
	text := "🚫 Subscription Cancelled\n\nYou will no longer receive daily lessons.\n\nYou can resubscribe anytime."
	r.send(ctx, chatID, text, markup([][]button{
		{{"💎 Subscribe Again", ActionSubscribe.Data()}},
		{{"🏠 Main Menu", ActionMainMenu.Data()}},
	}))
}

func levelName(level int) string {
	if info, ok := content.Levels[level]; ok {
		return info.Name
	}
	return "Unknown"
}

func sortedLevels() []int {
	out := make([]int, 0, len(content.Levels))
	for lv := range content.Levels {
		out = append(out, lv)
	}
	sort.Ints(out)
	return out
}

// ---- inline keyboards ----

type button struct {
	text string
	data string
}

func markup(rows [][]button) *transport.SendOptions {
	rm := &tele.ReplyMarkup{}
	teleRows := make([]tele.Row, 0, len(rows))
	for _, row := range rows {
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			btns = append(btns, rm.Data(b.text, b.data))
		}
		teleRows = append(teleRows, rm.Row(btns...))
	}
	rm.Inline(teleRows...)
	return &transport.SendOptions{ReplyMarkup: rm}
}
