package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"workshop-service/internal/models"
)

// ConfirmationData feeds the registration confirmation email
type ConfirmationData struct {
	FullName       string
	TitleAr        string
	TitleEn        string
	Amount         string
	ChargeID       string
	Sessions       []models.WorkshopSchedule
	RegistrationID int64
}

const confirmationSubject = "تأكيد التسجيل في الورشة | Workshop registration confirmed"

var confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation").Funcs(templateFuncs).Parse(`<!DOCTYPE html>
<html lang="ar">
<body>
<div dir="rtl" lang="ar">
<p>مرحباً {{.FullName}}،</p>
<p>تم تأكيد تسجيلك في ورشة <strong>{{.TitleAr}}</strong>.</p>
{{if .Amount}}<p>المبلغ المدفوع: {{.Amount}}{{if .ChargeID}} (رقم العملية {{.ChargeID}}){{end}}</p>{{end}}
{{if .Sessions}}<ul>{{range .Sessions}}<li>{{sessionDate .}} {{.StartTime}} - {{.EndTime}}</li>{{end}}</ul>{{end}}
<p>رقم التسجيل: {{.RegistrationID}}</p>
</div>
<hr>
<div dir="ltr" lang="en">
<p>Hello {{.FullName}},</p>
<p>Your seat in <strong>{{.TitleEn}}</strong> is confirmed.</p>
{{if .Amount}}<p>Amount paid: {{.Amount}}{{if .ChargeID}} (transaction {{.ChargeID}}){{end}}</p>{{end}}
{{if .Sessions}}<ul>{{range .Sessions}}<li>{{sessionDate .}} {{.StartTime}} - {{.EndTime}}</li>{{end}}</ul>{{end}}
<p>Registration number: {{.RegistrationID}}</p>
</div>
</body>
</html>`))

var confirmationText = template.Must(template.New("confirmation").Funcs(templateFuncs).Parse(`مرحباً {{.FullName}}،
تم تأكيد تسجيلك في ورشة {{.TitleAr}}.
{{if .Amount}}المبلغ المدفوع: {{.Amount}}
{{end}}{{range .Sessions}}- {{sessionDate .}} {{.StartTime}} - {{.EndTime}}
{{end}}رقم التسجيل: {{.RegistrationID}}

Hello {{.FullName}},
Your seat in {{.TitleEn}} is confirmed.
{{if .Amount}}Amount paid: {{.Amount}}
{{end}}{{range .Sessions}}- {{sessionDate .}} {{.StartTime}} - {{.EndTime}}
{{end}}Registration number: {{.RegistrationID}}
`))

var templateFuncs = map[string]interface{}{
	"sessionDate": func(s models.WorkshopSchedule) string {
		return s.SessionDate.Format("2006-01-02")
	},
}

// ConfirmationMessage renders the bilingual confirmation email, Arabic first.
func ConfirmationMessage(to string, data ConfirmationData) (Message, error) {
	if data.TitleAr == "" {
		data.TitleAr = data.TitleEn
	}
	if data.TitleEn == "" {
		data.TitleEn = data.TitleAr
	}

	var html, text bytes.Buffer
	if err := confirmationHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("failed to render confirmation html: %w", err)
	}
	if err := confirmationText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("failed to render confirmation text: %w", err)
	}

	return Message{
		To:      to,
		Subject: confirmationSubject,
		HTML:    html.String(),
		Text:    strings.TrimSpace(text.String()) + "\n",
	}, nil
}
