package render

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/smallbiznis/notifier/internal/notification/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	ErrUnknownTemplate = errors.New("unknown_template")
	ErrInvalidAttempt  = errors.New("invalid_attempt")
)

// Message is the rendered subject and HTML body for one notification.
type Message struct {
	Subject string
	HTML    string
}

type variant struct {
	tone    string
	subject string
}

var overdueVariants = []variant{
	{tone: "first", subject: "Reminder: invoice %s is overdue"},
	{tone: "second", subject: "Second reminder: invoice %s is still unpaid"},
	{tone: "final", subject: "Final notice: invoice %s is overdue"},
}

var inactiveVariants = []variant{
	{tone: "welcome", subject: "Welcome to %s: create your first invoice"},
	{tone: "nudge", subject: "Your first invoice takes two minutes"},
	{tone: "nudge", subject: "Need a hand with your first invoice?"},
	{tone: "nudge", subject: "%s is ready when you are"},
}

// sent for every attempt past the last inactive variant
var inactiveCheckIn = variant{tone: "checkin", subject: "Your monthly check-in from %s"}

type view struct {
	Subject       string
	Tone          string
	RecipientName string
	SenderName    string
	Reference     string
	DueDate       string
	Amount        string
	Link          string
}

// Renderer turns a candidate snapshot into a message. Output depends only on
// its inputs.
type Renderer struct {
	baseURL   string
	appName   string
	templates map[domain.Campaign]*template.Template
}

func NewRenderer(baseURL, appName string) (*Renderer, error) {
	layout, err := template.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	files := map[domain.Campaign]string{
		domain.CampaignOverdueInvoices:  "templates/overdue_invoice.html",
		domain.CampaignInactiveAccounts: "templates/inactive_account.html",
	}
	templates := make(map[domain.Campaign]*template.Template, len(files))
	for campaign, file := range files {
		base, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		tpl, err := base.ParseFS(templateFS, file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		templates[campaign] = tpl
	}

	if strings.TrimSpace(appName) == "" {
		appName = "Notifier"
	}
	return &Renderer{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		appName:   appName,
		templates: templates,
	}, nil
}

func (r *Renderer) Render(ctx context.Context, campaign domain.Campaign, c domain.Candidate, attempt int, sender domain.SenderProfile) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if r.baseURL == "" {
		return Message{}, domain.ErrMissingBaseURL
	}
	if attempt < 1 {
		return Message{}, fmt.Errorf("%w: %w: %d", domain.ErrRender, ErrInvalidAttempt, attempt)
	}
	tpl, ok := r.templates[campaign]
	if !ok {
		return Message{}, fmt.Errorf("%w: %w: %s", domain.ErrRender, ErrUnknownTemplate, campaign)
	}

	var v view
	switch campaign {
	case domain.CampaignOverdueInvoices:
		pick := pickVariant(overdueVariants, attempt, overdueVariants[len(overdueVariants)-1])
		v = view{
			Subject:       fmt.Sprintf(pick.subject, c.Reference),
			Tone:          pick.tone,
			RecipientName: fallback(c.ContactName, "there"),
			SenderName:    fallback(sender.FromName, sender.OrgName),
			Reference:     c.Reference,
			DueDate:       c.AnchorDate.String(),
			Amount:        formatMoney(c.AmountDue, c.Currency),
			Link:          r.baseURL + "/invoices/" + c.ID.String(),
		}
	case domain.CampaignInactiveAccounts:
		pick := pickVariant(inactiveVariants, attempt, inactiveCheckIn)
		subject := pick.subject
		if strings.Contains(subject, "%s") {
			subject = fmt.Sprintf(subject, r.appName)
		}
		v = view{
			Subject:       subject,
			Tone:          pick.tone,
			RecipientName: fallback(c.ContactName, sender.OrgName),
			SenderName:    r.appName,
			Link:          r.baseURL + "/invoices/new",
		}
	}

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", v); err != nil {
		return Message{}, fmt.Errorf("%w: %w", domain.ErrRender, err)
	}
	return Message{Subject: v.Subject, HTML: buf.String()}, nil
}

func pickVariant(variants []variant, attempt int, past variant) variant {
	if attempt <= len(variants) {
		return variants[attempt-1]
	}
	return past
}

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return strings.TrimSpace(def)
}

func formatMoney(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	whole := strconv.FormatInt(amount/100, 10)
	var grouped strings.Builder
	for i, ch := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(ch)
	}
	return fmt.Sprintf("%s %s%s.%02d", currency, sign, grouped.String(), amount%100)
}
