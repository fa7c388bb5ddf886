package notifier

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"MediVault/internal/model"
)

// Formatter renders amounts and entities as Telegram HTML.
type Formatter struct {
	Symbol   string
	Decimals uint8
}

// Amount renders a raw token amount with its symbol, e.g. "250.00 USDC".
func (f Formatter) Amount(a model.Amount) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -int32(f.Decimals))
	return fmt.Sprintf("%s %s", d.StringFixed(2), f.Symbol)
}

// Event renders a lifecycle event worth notifying about. It returns "" for events
// that are not announced.
func (f Formatter) Event(evt model.Event) string {
	switch evt.Type {
	case model.EventVaultFunded:
		return fmt.Sprintf("🎯 <b>Vault #%d funded</b>\nRaised %s for %s",
			evt.VaultID, f.Amount(evt.Vault.TotalDeposited), evt.Vault.EducationTrack)
	case model.EventScheduleCreated:
		s := evt.Schedule
		return fmt.Sprintf("🗓 <b>Repayment scheduled</b> | vault #%d\n%d × %s, first due %s",
			s.VaultID, s.TotalMonths, f.Amount(s.MonthlyAmount), s.NextPaymentDue.Format("2006-01-02 15:04"))
	case model.EventPaymentProcessed:
		p := evt.Payment
		return fmt.Sprintf("💸 <b>Repayment %d/%d</b> | vault #%d\nPaid %s (total %s of %s)",
			p.Month, evt.Schedule.TotalMonths, p.VaultID, f.Amount(p.Amount),
			f.Amount(evt.Schedule.TotalPaid), f.Amount(evt.Schedule.TotalOwed))
	case model.EventVaultClosed:
		return fmt.Sprintf("✅ <b>Vault #%d closed</b>", evt.VaultID)
	case model.EventRoundResolved:
		r := evt.Round
		return fmt.Sprintf("🎲 <b>Round #%d resolved</b>\nWinner: vault #%d of %d, prize %s",
			r.ID, r.Winner, len(r.Participants), f.Amount(r.PrizePool))
	case model.EventPrizeClaimed:
		return fmt.Sprintf("🎁 <b>Prize claimed</b> | vault #%d\n%s paid to the beneficiary", evt.VaultID, f.Amount(evt.Amount))
	case model.EventMultiplierAdjusted:
		return "⚖️ <b>Multiplier adjusted</b>\n" + f.Price(*evt.Price, false)
	default:
		return ""
	}
}

// Vault renders one vault with its investors.
func (f Formatter) Vault(v model.Vault, investors []model.InvestorPosition) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🏦 <b>Vault #%d</b> | %s\n\n", v.ID, v.Status))
	b.WriteString(fmt.Sprintf("Track: %s\n", v.EducationTrack))
	b.WriteString(fmt.Sprintf("Beneficiary: <code>%s</code>\n", v.Beneficiary.Hex()))
	b.WriteString(fmt.Sprintf("Raised: %s / %s\n", f.Amount(v.TotalDeposited), f.Amount(v.TargetAmount)))
	if len(investors) > 0 {
		b.WriteString(fmt.Sprintf("Investors: %d\n", len(investors)))
		for _, p := range investors {
			b.WriteString(fmt.Sprintf("  %s…: %s", p.Investor.Hex()[:10], f.Amount(p.AmountDeposited)))
			if p.Repaid > 0 {
				b.WriteString(fmt.Sprintf(" (repaid %s, claimed %s)", f.Amount(p.Repaid), f.Amount(p.Claimed)))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Activity renders journaled events one per line, in the order given.
func (f Formatter) Activity(events []model.Event) string {
	if len(events) == 0 {
		return "No recorded activity."
	}
	var b strings.Builder
	b.WriteString("📜 <b>Recent activity</b>\n\n")
	for _, evt := range events {
		b.WriteString(fmt.Sprintf("%s %s", evt.At.Format("2006-01-02 15:04"), evt.Type))
		switch {
		case evt.VaultID != 0:
			b.WriteString(fmt.Sprintf(" vault #%d", evt.VaultID))
		case evt.RoundID != 0:
			b.WriteString(fmt.Sprintf(" round #%d", evt.RoundID))
		}
		if evt.Amount > 0 {
			b.WriteString(" " + f.Amount(evt.Amount))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Schedules renders the active schedules and their status at now.
func (f Formatter) Schedules(schedules []model.RepaymentSchedule, now time.Time) string {
	if len(schedules) == 0 {
		return "No active repayment schedules."
	}
	var b strings.Builder
	b.WriteString("🗓 <b>Active schedules</b>\n\n")
	for _, s := range schedules {
		b.WriteString(fmt.Sprintf("#%d %s: %d/%d paid, next %s at %s\n",
			s.VaultID, s.Status(now), s.PaidMonths, s.TotalMonths,
			f.Amount(s.NextInstallment()), s.NextPaymentDue.Format("2006-01-02 15:04")))
	}
	return b.String()
}

// Round renders a lottery round.
func (f Formatter) Round(r model.LotteryRound, entryFee model.Amount) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🎲 <b>Round #%d</b> | %s\n\n", r.ID, r.Status))
	b.WriteString(fmt.Sprintf("Entrants: %d\n", len(r.Participants)))
	b.WriteString(fmt.Sprintf("Prize pool: %s\n", f.Amount(r.PrizePool)))
	b.WriteString(fmt.Sprintf("Entry fee: %s\n", f.Amount(entryFee)))
	if r.Status == model.RoundResolved {
		b.WriteString(fmt.Sprintf("Winner: vault #%d\n", r.Winner))
	}
	return b.String()
}

// Price renders the price state. Price is in feed units with st.Decimals places.
func (f Formatter) Price(st model.PriceState, stale bool) string {
	if !st.Observed {
		return fmt.Sprintf("No price observed yet, multiplier %d%%", st.Multiplier)
	}
	p := decimal.New(st.Price, -int32(st.Decimals))
	s := fmt.Sprintf("Price: %s | %s | multiplier %d%%\nUpdated: %s",
		p.StringFixed(4), st.Status, st.Multiplier, st.UpdatedAt.Format("2006-01-02 15:04"))
	if stale {
		s += " ⚠️ stale"
	}
	return s
}
