package service

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/clefworks/msm-api/internal/models"
)

// emailChild is one student's block inside a guardian email. Guardians with
// several enrolled children receive a single consolidated message.
type emailChild struct {
	StudentName  string
	Lessons      []models.LessonSummaryEntry
	TermFeeCents int
	ContinueURL  string
	WithdrawURL  string
}

type guardianEmailData struct {
	GuardianName string
	NextTermName string
	Deadline     time.Time
	Children     []emailChild
}

var emailFuncs = template.FuncMap{
	"money": formatCents,
	"longDate": func(t time.Time) string {
		return t.Format("Monday, 2 January 2006")
	},
}

var initialEmailTmpl = template.Must(template.New("initial").Funcs(emailFuncs).Parse(`
<p>Dear {{.GuardianName}},</p>
<p>Enrolment for <strong>{{.NextTermName}}</strong> is now open. Please confirm
whether each child will be continuing by <strong>{{longDate .Deadline}}</strong>.</p>
{{range .Children}}
<h3>{{.StudentName}}</h3>
<table border="1" cellpadding="6" cellspacing="0">
  <tr><th>Day</th><th>Time</th><th>Teacher</th><th>Instrument</th><th>Lessons</th><th>Fee per lesson</th></tr>
  {{range .Lessons}}
  <tr>
    <td>{{.Day}}</td>
    <td>{{.StartTime}}</td>
    <td>{{.TeacherName}}</td>
    <td>{{.Instrument}}</td>
    <td>{{.LessonCount}}</td>
    <td>{{money .LessonFeeCents}}</td>
  </tr>
  {{end}}
</table>
<p>Estimated term fee: <strong>{{money .TermFeeCents}}</strong></p>
<p>
  <a href="{{.ContinueURL}}">Yes, {{.StudentName}} will continue</a> &nbsp;|&nbsp;
  <a href="{{.WithdrawURL}}">No, {{.StudentName}} will not continue</a>
</p>
{{end}}
<p>If we do not hear from you by the deadline your enrolment will be handled
according to the school's continuation policy.</p>
`))

var reminderEmailTmpl = template.Must(template.New("reminder").Funcs(emailFuncs).Parse(`
<p>Dear {{.GuardianName}},</p>
<p>This is a reminder that we have not yet received your response for
<strong>{{.NextTermName}}</strong>. Responses close on
<strong>{{longDate .Deadline}}</strong>.</p>
{{range .Children}}
<p>
  <strong>{{.StudentName}}</strong> (estimated term fee {{money .TermFeeCents}}):
  <a href="{{.ContinueURL}}">continue</a> &nbsp;|&nbsp;
  <a href="{{.WithdrawURL}}">withdraw</a>
</p>
{{end}}
`))

// renderGuardianEmail produces the subject and HTML body for one guardian.
func renderGuardianEmail(kind models.MessageKind, data guardianEmailData) (string, string, error) {
	tmpl := initialEmailTmpl
	subject := fmt.Sprintf("Re-enrolment for %s: please respond by %s", data.NextTermName, data.Deadline.Format("2 January"))
	if kind == models.MessageKindReminder {
		tmpl = reminderEmailTmpl
		subject = fmt.Sprintf("Reminder: re-enrolment for %s closes %s", data.NextTermName, data.Deadline.Format("2 January"))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s email: %w", kind, err)
	}
	return subject, buf.String(), nil
}

func formatCents(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
