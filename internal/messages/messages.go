package messages

import (
	"fmt"
	"strings"
	"time"
)

const ParseModeHTML = "HTML"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func ErrorDefault() string {
	return "🚫 <b>Something went wrong</b>\nPlease try again."
}

func ErrorUnknownCommand() string {
	return "❓ <b>Unknown command</b>"
}

func StartWelcome() string {
	return "👋 <b>Hi!</b>\nI gate group access behind a paid subscription.\n\n" +
		"➕ Add me to a group as admin and send /register there.\n" +
		"⚙️ Then open /settings to configure price, trial and enforcement."
}

func HelpMessage() string {
	return "ℹ️ <b>Commands</b>\n" +
		"/register — register this group for paid access (admins)\n" +
		"/settings — open the group configuration menu (admins)\n" +
		"/subscribe — get a payment link for this group\n" +
		"/status — show your subscription for this group\n" +
		"/cancel — abort the current configuration step"
}

func AdminOnly() string {
	return "🔒 <b>Admins only</b>\nThis command is available to group administrators."
}

func GroupOnly() string {
	return "👥 This command works inside a group."
}

func GroupRegistered(title string) string {
	return fmt.Sprintf("✅ <b>%s registered</b>\nOpen /settings to configure the subscription.", Escape(title))
}

func GroupNotRegistered() string {
	return "⚠️ <b>Group not registered</b>\nSend /register in the group first."
}

func SettingsTitle(title string) string {
	return fmt.Sprintf("⚙️ <b>Settings — %s</b>", Escape(title))
}

// --- wizard prompts ---

func WizardAskPrice(currency string) string {
	return fmt.Sprintf("💰 <b>Subscription price</b>\nSend the price in %s as a number, e.g. <code>50</code>.\nType <code>cancel</code> to abort.", Escape(currency))
}

func WizardPriceInvalid() string {
	return "⚠️ <b>That is not a valid price</b>\nSend a positive number, e.g. <code>50</code>."
}

func WizardPriceSaved(price float64, currency string) string {
	return fmt.Sprintf("✅ <b>Price saved:</b> %.2f %s", price, Escape(currency))
}

func WizardAskWelcome() string {
	return "📝 <b>Welcome message</b>\nSend the text new members should see.\nType <code>cancel</code> to abort."
}

func WizardWelcomeSaved() string {
	return "✅ <b>Welcome message saved</b>"
}

func WizardAskMerchantID() string {
	return "🔑 <b>PayFast setup 1/3</b>\nSend your merchant ID.\nType <code>cancel</code> to abort."
}

func WizardAskMerchantKey() string {
	return "🔑 <b>PayFast setup 2/3</b>\nSend your merchant key."
}

func WizardAskPassphrase(skipToken string) string {
	return fmt.Sprintf("🔑 <b>PayFast setup 3/3</b>\nSend your passphrase, or <code>%s</code> if you have none.", Escape(skipToken))
}

func WizardPaymentConfigured() string {
	return "✅ <b>PayFast configured</b>\nPayments for this group will use these credentials."
}

func WizardAskTrialDays(min, max int) string {
	return fmt.Sprintf("🎁 <b>Trial length</b>\nSend the number of trial days (%d–%d).\nType <code>cancel</code> to abort.", min, max)
}

func WizardTrialDaysInvalid(min, max int) string {
	return fmt.Sprintf("⚠️ <b>Invalid trial length</b>\nSend a whole number between %d and %d.", min, max)
}

func WizardTrialSaved(days int) string {
	return fmt.Sprintf("✅ <b>Trial enabled:</b> %d day(s) for new members", days)
}

func WizardCancelled() string {
	return "↩️ <b>Cancelled</b>\nNothing was changed in this step."
}

// --- enforcement notices ---

func RestrictSendNotice(groupTitle string) string {
	return fmt.Sprintf("🔇 <b>Message removed</b>\nSending in <b>%s</b> requires an active subscription. Use /subscribe there to get a payment link.", Escape(groupTitle))
}

func RestrictViewNotice(groupTitle string) string {
	return fmt.Sprintf("🚪 <b>Removed from %s</b>\nYour subscription has lapsed. Resubscribe before rejoining.", Escape(groupTitle))
}

func SubscriptionPrompt(groupTitle string) string {
	return fmt.Sprintf("⏰ <b>Heads up</b>\nParticipation in <b>%s</b> requires a subscription. Use /subscribe in the group.", Escape(groupTitle))
}

func TrialGranted(days int, groupTitle string) string {
	return fmt.Sprintf("🎁 <b>Welcome!</b>\nYou have a %d-day free trial in <b>%s</b>.", days, Escape(groupTitle))
}

// --- payments ---

func PaymentLink(url string, price float64, currency string) string {
	return fmt.Sprintf("💳 <b>Subscription — %.2f %s</b>\nPay here:\n%s", price, Escape(currency), url)
}

func PaymentNotConfigured() string {
	return "⚠️ <b>Payments not configured</b>\nThe group admins have not set up a payment gateway yet."
}

func SubscriptionExtended(groupTitle string, until time.Time) string {
	return fmt.Sprintf("✅ <b>Payment received</b>\nYour access to <b>%s</b> is active until %s.", Escape(groupTitle), until.Format("2006-01-02 15:04 MST"))
}

func SubscriptionExpiredNotice(groupTitle string) string {
	return fmt.Sprintf("⌛ <b>Subscription expired</b>\nYour access to <b>%s</b> has lapsed. Use /subscribe there to renew.", Escape(groupTitle))
}

// --- status ---

func StatusAdmin(groupTitle string) string {
	return fmt.Sprintf("👑 <b>Admin access</b>\nYou administer <b>%s</b>; no subscription needed.", Escape(groupTitle))
}

func StatusActive(groupTitle string, until time.Time) string {
	return fmt.Sprintf("✅ <b>Active</b>\nYour subscription in <b>%s</b> runs until %s.", Escape(groupTitle), until.Format("2006-01-02 15:04 MST"))
}

func StatusInactive(groupTitle string) string {
	return fmt.Sprintf("❌ <b>No active subscription</b> in <b>%s</b>.\nUse /subscribe to get a payment link.", Escape(groupTitle))
}

func StatusOpenGroup(groupTitle string) string {
	return fmt.Sprintf("🆓 <b>%s</b> does not require a subscription.", Escape(groupTitle))
}
