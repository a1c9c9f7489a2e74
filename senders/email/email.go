package email

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var (
	//go:embed sync_failed.html
	syncFailedHTML     string
	syncFailedTemplate = template.Must(template.New("sync_failed.html").Parse(syncFailedHTML))

	//go:embed dispatch_unlogged.html
	dispatchUnloggedHTML     string
	dispatchUnloggedTemplate = template.Must(template.New("dispatch_unlogged.html").Parse(dispatchUnloggedHTML))
)

// Format is an operator alert rendered as an HTML email.
type Format interface {
	Subject() string
	Body() string
}

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

type SyncFailedEmailFormat struct {
	Page     int
	Offset   int
	Reason   string
	FailedAt time.Time
}

func (ef *SyncFailedEmailFormat) Subject() string {
	return fmt.Sprintf("Pushpanel: subscriber sync failed on page %d", ef.Page)
}

func (ef *SyncFailedEmailFormat) Body() string {
	return mustFillTemplate(syncFailedTemplate, ef)
}

type DispatchUnloggedEmailFormat struct {
	ProviderID string
	Title      string
	Recipients int
	Actor      string
	Reason     string
	SentAt     time.Time
}

func (ef *DispatchUnloggedEmailFormat) Subject() string {
	return fmt.Sprintf("Pushpanel: notification %s was sent but not logged", ef.ProviderID)
}

func (ef *DispatchUnloggedEmailFormat) Body() string {
	return mustFillTemplate(dispatchUnloggedTemplate, ef)
}
