package app

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fiffu/pushpanel/lib/models"
)

var exportColumns = []string{"ID", "Contact", "External ID", "Created Date"}

// writeSubscribersCSV streams subs as an attachment. Headers are sent before the first row, so a
// write error can only be logged.
func writeSubscribersCSV(w http.ResponseWriter, subs models.Subscribers, includeGroups bool) error {
	filename := fmt.Sprintf("subscribers_%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)

	out := csv.NewWriter(w)

	header := exportColumns
	if includeGroups {
		header = append(header[:len(header):len(header)], "Groups")
	}
	if err := out.Write(header); err != nil {
		return err
	}

	for _, sub := range subs {
		if err := out.Write(subscriberRow(&sub, includeGroups)); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func subscriberRow(sub *models.Subscriber, includeGroups bool) []string {
	row := []string{
		sub.ID,
		sub.Contact.String,
		sub.ExternalID,
		sub.CreatedAt.UTC().Format(time.RFC3339),
	}
	if includeGroups {
		names := make([]string, len(sub.Groups))
		for i, g := range sub.Groups {
			names[i] = g.Name
		}
		row = append(row, strings.Join(names, "; "))
	}
	return row
}
